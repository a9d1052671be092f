package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"finrag/internal/pipeline"
)

// queryRequest is the POST /query body. Optional fields default to
// the behaviors a naive client expects: rerank on, cache on.
type queryRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"top_k,omitempty"`
	UseRerank *bool  `json:"use_rerank,omitempty"`
	UseCache  *bool  `json:"use_cache,omitempty"`
}

type errorBody struct {
	Kind    pipeline.Kind `json:"kind"`
	Message string        `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// decodeQuery parses the request body and fills option defaults.
func decodeQuery(r *http.Request) (pipeline.Request, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return pipeline.Request{}, err
	}

	preq := pipeline.Request{
		Question: req.Question,
		TopK:     req.TopK,
		Rerank:   true,
		UseCache: true,
	}
	if req.UseRerank != nil {
		preq.Rerank = *req.UseRerank
	}
	if req.UseCache != nil {
		preq.UseCache = *req.UseCache
	}
	return preq, nil
}

func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	preq, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, pipeline.KindInvalidQuery, "malformed JSON body")
		return
	}

	result, err := s.pipe.Query(r.Context(), preq)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleQueryStream answers a query over server-sent events: one data
// frame per generated token, then a final frame carrying the full
// result. Errors before the stream starts use the normal JSON mapping.
func (s *HTTPServer) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	preq, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, pipeline.KindInvalidQuery, "malformed JSON body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, pipeline.KindInternal, "streaming unsupported")
		return
	}

	events, err := s.pipe.QueryStream(r.Context(), preq)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encoding stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Metrics())
}

// handleHealth reports liveness plus pipeline readiness and counters,
// so one probe shows the whole picture.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"ready":   s.pipe.Ready(),
		"metrics": s.pipe.Metrics(),
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.pipe.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "indexing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writePipelineError maps pipeline error kinds onto HTTP statuses.
func (s *HTTPServer) writePipelineError(w http.ResponseWriter, err error) {
	kind := pipeline.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindInvalidQuery:
		status = http.StatusBadRequest
	case pipeline.KindIndexUnready, pipeline.KindDocumentUnavailable:
		status = http.StatusServiceUnavailable
	case pipeline.KindEmbeddingFailure, pipeline.KindGenerationFailure:
		status = http.StatusBadGateway
	}

	message := "internal error"
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		message = pe.Message
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("query failed", "kind", kind, "error", err)
	}

	writeError(w, status, kind, message)
}

func writeError(w http.ResponseWriter, status int, kind pipeline.Kind, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
