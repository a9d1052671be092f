// Package reranker re-orders retrieval candidates before generation.
//
// Vector similarity alone ranks paraphrases well but misses exact-term
// matches, which matter a lot for financial questions ("revenue 2023"
// should beat a chunk that merely talks about revenue in general). The
// score reranker blends similarity with keyword overlap and a length
// prior, trading a few microseconds for noticeably better precision in
// the final top-k.
package reranker

import (
	"context"

	"finrag/internal/vectorstore"
)

// ScoredResult is a retrieval candidate with its reranking breakdown.
type ScoredResult struct {
	vectorstore.Candidate

	// Composite is the weighted blend the final ordering uses.
	Composite float64
	// KeywordScore is the fraction of query keywords found in the chunk.
	KeywordScore float64
	// LengthScore peaks at the ideal chunk length and decays either side.
	LengthScore float64
}

// Reranker re-orders candidates by relevance to the query.
type Reranker interface {
	// Rerank returns at most topK results ordered by descending
	// relevance. The input slice is not modified.
	Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate, topK int) ([]ScoredResult, error)
}
