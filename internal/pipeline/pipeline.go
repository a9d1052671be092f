// Package pipeline orchestrates a question through retrieval,
// reranking, generation, and the answer cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"finrag/internal/cache"
	"finrag/internal/embedder"
	"finrag/internal/index"
	"finrag/internal/llm"
	"finrag/internal/reranker"
	"finrag/internal/vectorstore"
)

// systemPrompt keeps the model grounded in the retrieved context and
// makes it cite pages, which the evidence surface depends on.
const systemPrompt = `You are a financial analyst specialized in corporate reporting.

RULES:
1. Use ONLY the provided context.
2. If the exact answer is explicitly stated, give it clearly.
3. If the answer is implicit:
   - Look for equivalent terms (e.g. revenue = net sales).
   - Extract values from tables if clearly identifiable.
4. If the information is missing:
   - Explain what is available.
   - Explain what is not available.
5. NEVER invent numbers.

FORMAT:
- Short answer (1-3 sentences).
- Cite sources like: [Page X].

EXAMPLE:
Q: What was LVMH revenue in 2023?
A: LVMH reported total revenue of 86,153 million euros in 2023 [Page 52].
`

const noAnswerText = "No relevant information found in the document."

const (
	previewRunes = 150
	snippetRunes = 240
	evidenceMax  = 3
)

var digitPattern = regexp.MustCompile(`\d`)

// Searcher is the slice of the index the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, query string, topN int, minScore float32) ([]vectorstore.Candidate, error)
	Ready() bool
	Stats() index.Stats
}

var _ Searcher = (*index.Index)(nil)

// Source points an answer back at a report page.
type Source struct {
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
	Preview string  `json:"preview"`
}

// EvidenceItem is a longer excerpt kept for auditability.
type EvidenceItem struct {
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// Confidence grades how well the retrieved context supports the answer.
type Confidence struct {
	Level   string   `json:"level"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Result is the full answer envelope returned to clients.
type Result struct {
	Answer     string         `json:"answer"`
	Sources    []Source       `json:"sources"`
	Evidence   []EvidenceItem `json:"evidence"`
	Confidence Confidence     `json:"confidence"`
	LatencyMS  int64          `json:"latency_ms"`
	FromCache  bool           `json:"from_cache"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Request carries a question and its per-request options. The server
// layer fills defaults before calling the pipeline.
type Request struct {
	Question string
	TopK     int
	Rerank   bool
	UseCache bool
}

// Options tunes the pipeline. Zero values fall back to sane defaults.
type Options struct {
	TopNRetrieval     int
	TopKFinal         int
	MinScore          float32
	GenerationTimeout time.Duration
	Model             string
	Temperature       float32
	MaxTokens         int
	CacheEnabled      bool
}

// Pipeline answers questions about the indexed report.
type Pipeline struct {
	searcher Searcher
	reranker reranker.Reranker
	llm      llm.LLM
	cache    *cache.Cache[Result]
	opts     Options
	logger   *slog.Logger
	metrics  metrics

	// now is swapped in tests.
	now func() time.Time
}

// New builds a pipeline. The cache may be nil when caching is disabled.
func New(searcher Searcher, rr reranker.Reranker, generator llm.LLM, answerCache *cache.Cache[Result], opts Options, logger *slog.Logger) *Pipeline {
	if opts.TopNRetrieval <= 0 {
		opts.TopNRetrieval = 10
	}
	if opts.TopKFinal <= 0 {
		opts.TopKFinal = 5
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		searcher: searcher,
		reranker: rr,
		llm:      generator,
		cache:    answerCache,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// scoredChunk is a candidate with the score its final ranking used,
// which is the composite when reranked and raw similarity otherwise.
type scoredChunk struct {
	vectorstore.Candidate
	score float64
}

// Query runs the full pipeline for one question.
func (p *Pipeline) Query(ctx context.Context, req Request) (Result, error) {
	start := p.now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		p.metrics.record(p.now().Sub(start), false, "invalid")
		return Result{}, newError(KindInvalidQuery, "question must not be empty", nil)
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
			p.logger.Info("query answered from cache", "latency_ms", hit.LatencyMS)
			return hit, nil
		}
	}

	candidates, err := p.searcher.Search(ctx, question, p.opts.TopNRetrieval, p.opts.MinScore)
	if err != nil {
		p.metrics.record(p.now().Sub(start), false, "error")
		return Result{}, classifySearchErr(err)
	}

	if len(candidates) == 0 {
		result := p.finalize(start, noAnswerText, nil)
		if cacheable {
			p.cache.Put(key, result)
		}
		p.metrics.record(p.now().Sub(start), false, "ok")
		return result, nil
	}

	ranked, err := p.rank(ctx, question, candidates, topK, req.Rerank)
	if err != nil {
		p.metrics.record(p.now().Sub(start), false, "error")
		return Result{}, newError(KindInternal, "reranking failed", err)
	}

	answer, err := p.generate(ctx, question, ranked)
	if err != nil {
		p.metrics.record(p.now().Sub(start), false, "error")
		// Failed answers are never cached.
		return Result{}, err
	}

	result := p.finalize(start, answer, ranked)
	if cacheable {
		p.cache.Put(key, result)
	}
	p.metrics.record(p.now().Sub(start), false, "ok")
	p.logger.Info("query answered",
		"latency_ms", result.LatencyMS,
		"sources", len(result.Sources),
		"confidence", result.Confidence.Level,
	)
	return result, nil
}

// Metrics reports the pipeline counters plus cache and index state.
func (p *Pipeline) Metrics() Snapshot {
	s := p.metrics.snapshot()
	if p.cache != nil {
		s.CacheSize = p.cache.Len()
	}
	s.IndexStats = p.searcher.Stats()
	return s
}

// Ready reports whether the underlying index can serve queries.
func (p *Pipeline) Ready() bool { return p.searcher.Ready() }

func (p *Pipeline) rank(ctx context.Context, question string, candidates []vectorstore.Candidate, topK int, rerank bool) ([]scoredChunk, error) {
	if rerank && p.reranker != nil {
		results, err := p.reranker.Rerank(ctx, question, candidates, topK)
		if err != nil {
			return nil, err
		}
		ranked := make([]scoredChunk, len(results))
		for i, r := range results {
			ranked[i] = scoredChunk{Candidate: r.Candidate, score: r.Composite}
		}
		return ranked, nil
	}

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	ranked := make([]scoredChunk, len(candidates))
	for i, c := range candidates {
		ranked[i] = scoredChunk{Candidate: c, score: float64(c.Similarity)}
	}
	return ranked, nil
}

func (p *Pipeline) generate(ctx context.Context, question string, ranked []scoredChunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.GenerationTimeout)
	defer cancel()

	prompt := fmt.Sprintf("%s\n\nQuestion: %s\n\nAnswer:", buildContext(ranked), question)

	answer, err := p.llm.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        p.opts.Model,
		SystemPrompt: systemPrompt,
		Temperature:  p.opts.Temperature,
		MaxTokens:    p.opts.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", newError(KindGenerationFailure, "generation timed out", err)
		}
		return "", newError(KindGenerationFailure, "generation failed", err)
	}
	return strings.TrimSpace(answer), nil
}

func (p *Pipeline) finalize(start time.Time, answer string, ranked []scoredChunk) Result {
	return Result{
		Answer:     answer,
		Sources:    formatSources(ranked),
		Evidence:   buildEvidence(ranked),
		Confidence: computeConfidence(ranked, answer),
		LatencyMS:  p.now().Sub(start).Milliseconds(),
		FromCache:  false,
		Timestamp:  p.now(),
	}
}

// buildContext renders the ranked chunks with page and score markers so
// the model can cite them.
func buildContext(ranked []scoredChunk) string {
	parts := make([]string, len(ranked))
	for i, r := range ranked {
		parts[i] = fmt.Sprintf("[Page %d | score %.2f]\n%s", r.Page, r.score, r.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func formatSources(ranked []scoredChunk) []Source {
	sources := make([]Source, len(ranked))
	for i, r := range ranked {
		sources[i] = Source{
			Page:    r.Page,
			Score:   round3(r.score),
			Preview: previewText(r.Text, previewRunes),
		}
	}
	return sources
}

func buildEvidence(ranked []scoredChunk) []EvidenceItem {
	n := len(ranked)
	if n > evidenceMax {
		n = evidenceMax
	}
	evidence := make([]EvidenceItem, n)
	for i := 0; i < n; i++ {
		evidence[i] = EvidenceItem{
			Page:    ranked[i].Page,
			Score:   round3(ranked[i].score),
			Snippet: strings.TrimSpace(truncateRunes(ranked[i].Text, snippetRunes)),
		}
	}
	return evidence
}

// computeConfidence grades the answer's support: strong top and average
// similarity, evidence spread across pages, and numeric backing when
// the answer contains numbers.
func computeConfidence(ranked []scoredChunk, answer string) Confidence {
	if len(ranked) == 0 {
		return Confidence{Level: "LOW", Score: 0, Reasons: []string{"NO_SOURCES"}}
	}

	top, sum := 0.0, 0.0
	numericChunks := 0
	pages := make(map[int]struct{}, len(ranked))
	for _, r := range ranked {
		if r.score > top {
			top = r.score
		}
		sum += r.score
		if r.HasNumbers {
			numericChunks++
		}
		pages[r.Page] = struct{}{}
	}
	avg := sum / float64(len(ranked))

	score := 0.0
	reasons := []string{}

	if top >= 0.55 {
		score += 0.40
	} else {
		reasons = append(reasons, "LOW_TOP_SIMILARITY")
	}
	if avg >= 0.45 {
		score += 0.20
	} else {
		reasons = append(reasons, "LOW_AVG_SIMILARITY")
	}
	if len(pages) >= 2 {
		score += 0.15
	} else {
		reasons = append(reasons, "SINGLE_PAGE_EVIDENCE")
	}
	if numericChunks >= 2 {
		score += 0.15
	} else {
		reasons = append(reasons, "LOW_NUMERIC_EVIDENCE")
	}
	if digitPattern.MatchString(answer) && numericChunks == 0 {
		score -= 0.20
		reasons = append(reasons, "ANSWER_HAS_NUMBERS_WITHOUT_SUPPORT")
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	level := "LOW"
	switch {
	case score >= 0.75:
		level = "HIGH"
	case score >= 0.50:
		level = "MEDIUM"
	}

	return Confidence{Level: level, Score: round3(score), Reasons: reasons}
}

func classifySearchErr(err error) error {
	switch {
	case errors.Is(err, index.ErrIndexUnready):
		return newError(KindIndexUnready, "index is not ready", err)
	case errors.Is(err, embedder.ErrEmbeddingFailure):
		return newError(KindEmbeddingFailure, "query embedding failed", err)
	default:
		return newError(KindInternal, "retrieval failed", err)
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// previewText truncates to n runes, marking an actual cut with an
// ellipsis. Short texts pass through unchanged.
func previewText(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}
