package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finrag/internal/cache"
	"finrag/internal/index"
	"finrag/internal/llm"
	"finrag/internal/pipeline"
	"finrag/internal/reranker"
	"finrag/internal/vectorstore"
)

type stubSearcher struct {
	candidates []vectorstore.Candidate
	ready      bool
}

func (s *stubSearcher) Search(_ context.Context, _ string, topN int, _ float32) ([]vectorstore.Candidate, error) {
	if !s.ready {
		return nil, index.ErrIndexUnready
	}
	if len(s.candidates) > topN {
		return s.candidates[:topN], nil
	}
	return s.candidates, nil
}

func (s *stubSearcher) Ready() bool { return s.ready }

func (s *stubSearcher) Stats() index.Stats {
	return index.Stats{TotalDocs: len(s.candidates), Model: "stub", Ready: s.ready}
}

type stubLLM struct{ answer string }

func (s *stubLLM) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	return s.answer, nil
}

func (s *stubLLM) GenerateStream(_ context.Context, _ string, _ llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, token := range strings.SplitAfter(s.answer, " ") {
			ch <- llm.StreamChunk{Token: token}
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

func newTestServer(t *testing.T, searcher pipeline.Searcher, apiKey string) *HTTPServer {
	t.Helper()
	pipe := pipeline.New(
		searcher,
		reranker.NewScoreReranker(),
		&stubLLM{answer: "Revenue was 86,153 million euros [Page 52]."},
		cache.New[pipeline.Result](16, time.Minute),
		pipeline.Options{CacheEnabled: true, GenerationTimeout: time.Second},
		nil,
	)
	return NewHTTPServer(HTTPServerConfig{Port: 0, APIKey: apiKey}, pipe)
}

func readySearcher() *stubSearcher {
	return &stubSearcher{
		ready: true,
		candidates: []vectorstore.Candidate{
			{ChunkIndex: 1, Page: 52, Text: "Total revenue of 86,153 million euros in 2023.", Similarity: 0.8, HasNumbers: true, WordCount: 150},
		},
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t, readySearcher(), "")

	body := `{"question": "What was the revenue in 2023?"}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !strings.Contains(result.Answer, "86,153") {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) == 0 || result.Sources[0].Page != 52 {
		t.Errorf("sources = %+v", result.Sources)
	}
}

func TestQueryStreamEndpoint(t *testing.T) {
	srv := newTestServer(t, readySearcher(), "")

	body := `{"question": "What was the revenue in 2023?"}`
	req := httptest.NewRequest(http.MethodPost, "/query/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var streamed strings.Builder
	var final *pipeline.Result
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev pipeline.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("decoding frame %q: %v", payload, err)
		}
		streamed.WriteString(ev.Token)
		if ev.Done {
			final = ev.Result
		}
	}

	if !strings.Contains(streamed.String(), "86,153") {
		t.Errorf("streamed tokens = %q", streamed.String())
	}
	if final == nil {
		t.Fatal("missing final result frame")
	}
	if len(final.Sources) == 0 || final.Sources[0].Page != 52 {
		t.Errorf("sources = %+v", final.Sources)
	}
}

func TestQueryStreamIndexUnreadyMapsTo503(t *testing.T) {
	srv := newTestServer(t, &stubSearcher{ready: false}, "")

	req := httptest.NewRequest(http.MethodPost, "/query/stream", strings.NewReader(`{"question": "revenue?"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestQueryEmptyQuestion(t *testing.T) {
	srv := newTestServer(t, readySearcher(), "")

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": ""}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Error.Kind != pipeline.KindInvalidQuery {
		t.Errorf("kind = %s, want %s", resp.Error.Kind, pipeline.KindInvalidQuery)
	}
}

func TestQueryMalformedBody(t *testing.T) {
	srv := newTestServer(t, readySearcher(), "")

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": `))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueryIndexUnreadyMapsTo503(t *testing.T) {
	srv := newTestServer(t, &stubSearcher{ready: false}, "")

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "revenue?"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReadinessTracksIndex(t *testing.T) {
	srv := newTestServer(t, &stubSearcher{ready: false}, "")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unready status = %d, want 503", rec.Code)
	}

	srv = newTestServer(t, readySearcher(), "")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", rec.Code)
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	srv := newTestServer(t, &stubSearcher{ready: false}, "")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, readySearcher(), "")

	// One query so counters move.
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "revenue?"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}

	var snap pipeline.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if snap.TotalQueries != 1 {
		t.Errorf("total_queries = %d, want 1", snap.TotalQueries)
	}
	if !snap.IndexStats.Ready {
		t.Error("index stats should report ready")
	}
}

func TestAPIKeyGate(t *testing.T) {
	srv := newTestServer(t, readySearcher(), "secret")

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "revenue?"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "revenue?"}`))
	req.Header.Set(APIKeyHeader, "secret")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid key status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Health endpoints stay open.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}
