package reranker

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"finrag/internal/vectorstore"
)

// Default blend weights. Similarity dominates; keyword overlap breaks
// paraphrase ties; the length prior nudges against fragments and walls
// of text.
const (
	DefaultSimilarityWeight = 0.70
	DefaultKeywordWeight    = 0.20
	DefaultLengthWeight     = 0.10
	DefaultIdealWords       = 200
)

// stopwords covers English and French, since annual reports and the
// questions asked about them come in both.
var stopwords = map[string]struct{}{
	// English
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "it": {}, "its": {}, "this": {},
	"that": {}, "with": {}, "what": {}, "which": {}, "who": {}, "how": {},
	"much": {}, "many": {}, "did": {}, "does": {}, "do": {}, "by": {},
	"from": {}, "as": {}, "has": {}, "have": {}, "had": {},
	// French
	"le": {}, "la": {}, "les": {}, "un": {}, "une": {}, "des": {}, "de": {},
	"du": {}, "en": {}, "et": {}, "ou": {}, "est": {}, "sont": {}, "dans": {},
	"sur": {}, "pour": {}, "par": {}, "que": {}, "qui": {}, "quel": {},
	"quelle": {}, "quels": {}, "quelles": {}, "combien": {}, "au": {},
	"aux": {}, "ce": {}, "cette": {}, "ces": {}, "son": {}, "sa": {},
	"ses": {}, "il": {}, "elle": {},
}

// ScoreReranker blends vector similarity, keyword overlap, and a chunk
// length prior into a single composite score. It is deterministic and
// makes no network calls.
type ScoreReranker struct {
	similarityWeight float64
	keywordWeight    float64
	lengthWeight     float64
	idealWords       int
}

var _ Reranker = (*ScoreReranker)(nil)

// ScoreRerankerOption is a functional option for configuring ScoreReranker.
type ScoreRerankerOption func(*ScoreReranker)

// WithWeights sets the blend weights. They should sum to 1 for the
// composite to stay in [0, 1], but this is not enforced.
func WithWeights(similarity, keyword, length float64) ScoreRerankerOption {
	return func(r *ScoreReranker) {
		r.similarityWeight = similarity
		r.keywordWeight = keyword
		r.lengthWeight = length
	}
}

// WithIdealWords sets the word count at which the length prior peaks.
func WithIdealWords(words int) ScoreRerankerOption {
	return func(r *ScoreReranker) {
		if words > 0 {
			r.idealWords = words
		}
	}
}

// NewScoreReranker creates a reranker with the default blend.
func NewScoreReranker(opts ...ScoreRerankerOption) *ScoreReranker {
	r := &ScoreReranker{
		similarityWeight: DefaultSimilarityWeight,
		keywordWeight:    DefaultKeywordWeight,
		lengthWeight:     DefaultLengthWeight,
		idealWords:       DefaultIdealWords,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores every candidate and returns the topK best, ordered by
// composite score descending with ties broken by chunk index.
func (r *ScoreReranker) Rerank(_ context.Context, query string, candidates []vectorstore.Candidate, topK int) ([]ScoredResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	keywords := extractKeywords(query)

	scored := make([]ScoredResult, len(candidates))
	for i, c := range candidates {
		kw := keywordOverlap(keywords, c.Text)
		length := r.lengthScore(c.WordCount)
		scored[i] = ScoredResult{
			Candidate:    c,
			KeywordScore: kw,
			LengthScore:  length,
			Composite: r.similarityWeight*float64(c.Similarity) +
				r.keywordWeight*kw +
				r.lengthWeight*length,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Composite != scored[j].Composite {
			return scored[i].Composite > scored[j].Composite
		}
		return scored[i].ChunkIndex < scored[j].ChunkIndex
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// lengthScore peaks at 1.0 for idealWords and decays hyperbolically.
func (r *ScoreReranker) lengthScore(wordCount int) float64 {
	ideal := float64(r.idealWords)
	return 1.0 / (1.0 + math.Abs(float64(wordCount)-ideal)/ideal)
}

// extractKeywords lowercases the query, splits on non-letter/digit
// runes, and drops stopwords and one-character tokens.
func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	keywords := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		keywords = append(keywords, f)
	}
	return keywords
}

// keywordOverlap returns the fraction of keywords present in text,
// case-insensitively. No keywords means no signal, scored as zero.
func keywordOverlap(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
