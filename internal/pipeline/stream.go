package pipeline

import (
	"context"
	"fmt"
	"strings"

	"finrag/internal/cache"
	"finrag/internal/llm"
)

// StreamEvent is one frame of a streamed answer: token frames while the
// model generates, then a final frame carrying the assembled Result.
type StreamEvent struct {
	Token  string  `json:"token,omitempty"`
	Done   bool    `json:"done"`
	Error  string  `json:"error,omitempty"`
	Result *Result `json:"result,omitempty"`
}

// QueryStream runs retrieval and reranking synchronously, then streams
// the generated answer token by token. The returned channel closes
// after a final event carrying the full Result with sources, evidence,
// and confidence. Validation and retrieval errors are returned before
// any event is produced; completed answers land in the cache exactly
// like blocking queries, and cache hits yield a single final event.
func (p *Pipeline) QueryStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	start := p.now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		p.metrics.record(p.now().Sub(start), false, "invalid")
		return nil, newError(KindInvalidQuery, "question must not be empty", nil)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.opts.TopKFinal
	}

	cacheable := p.cache != nil && p.opts.CacheEnabled && req.UseCache
	key := cache.Key(question, topK, req.Rerank)

	if cacheable {
		if hit, ok := p.cache.Get(key); ok {
			hit.FromCache = true
			hit.LatencyMS = p.now().Sub(start).Milliseconds()
			hit.Timestamp = p.now()
			p.metrics.record(p.now().Sub(start), true, "ok")
			p.logger.Info("streamed query answered from cache", "latency_ms", hit.LatencyMS)
			return singleEvent(StreamEvent{Done: true, Result: &hit}), nil
		}
	}

	candidates, err := p.searcher.Search(ctx, question, p.opts.TopNRetrieval, p.opts.MinScore)
	if err != nil {
		p.metrics.record(p.now().Sub(start), false, "error")
		return nil, classifySearchErr(err)
	}

	if len(candidates) == 0 {
		result := p.finalize(start, noAnswerText, nil)
		if cacheable {
			p.cache.Put(key, result)
		}
		p.metrics.record(p.now().Sub(start), false, "ok")
		return singleEvent(StreamEvent{Done: true, Result: &result}), nil
	}

	ranked, err := p.rank(ctx, question, candidates, topK, req.Rerank)
	if err != nil {
		p.metrics.record(p.now().Sub(start), false, "error")
		return nil, newError(KindInternal, "reranking failed", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, p.opts.GenerationTimeout)
	prompt := fmt.Sprintf("%s\n\nQuestion: %s\n\nAnswer:", buildContext(ranked), question)
	tokens, err := p.llm.GenerateStream(genCtx, prompt, llm.GenerateOptions{
		Model:        p.opts.Model,
		SystemPrompt: systemPrompt,
		Temperature:  p.opts.Temperature,
		MaxTokens:    p.opts.MaxTokens,
	})
	if err != nil {
		cancel()
		p.metrics.record(p.now().Sub(start), false, "error")
		return nil, newError(KindGenerationFailure, "generation failed", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer cancel()

		var answer strings.Builder
		for chunk := range tokens {
			if chunk.Error != nil {
				// Partial answers are never cached.
				p.metrics.record(p.now().Sub(start), false, "error")
				p.logger.Error("streamed generation failed", "error", chunk.Error)
				events <- StreamEvent{Done: true, Error: "generation failed"}
				return
			}
			if chunk.Token != "" {
				answer.WriteString(chunk.Token)
				events <- StreamEvent{Token: chunk.Token}
			}
			if chunk.Done {
				break
			}
		}

		result := p.finalize(start, strings.TrimSpace(answer.String()), ranked)
		if cacheable {
			p.cache.Put(key, result)
		}
		p.metrics.record(p.now().Sub(start), false, "ok")
		p.logger.Info("streamed query answered",
			"latency_ms", result.LatencyMS,
			"sources", len(result.Sources),
			"confidence", result.Confidence.Level,
		)
		events <- StreamEvent{Done: true, Result: &result}
	}()

	return events, nil
}

func singleEvent(ev StreamEvent) <-chan StreamEvent {
	events := make(chan StreamEvent, 1)
	events <- ev
	close(events)
	return events
}
