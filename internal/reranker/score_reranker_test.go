package reranker

import (
	"context"
	"reflect"
	"testing"

	"finrag/internal/vectorstore"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "english question",
			query: "What was the total revenue in 2023?",
			want:  []string{"total", "revenue", "2023"},
		},
		{
			name:  "french question",
			query: "Quel est le chiffre d'affaires en 2023?",
			want:  []string{"chiffre", "affaires", "2023"},
		},
		{
			name:  "duplicates collapse",
			query: "revenue revenue Revenue",
			want:  []string{"revenue"},
		},
		{
			name:  "all stopwords",
			query: "what is the",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractKeywords(tt.query)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractKeywords(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestKeywordOverlap(t *testing.T) {
	keywords := []string{"revenue", "2023", "growth"}
	text := "Revenue in 2023 reached a record level."

	got := keywordOverlap(keywords, text)
	want := 2.0 / 3.0
	if got != want {
		t.Errorf("overlap = %v, want %v", got, want)
	}

	if keywordOverlap(nil, text) != 0 {
		t.Error("no keywords should score zero")
	}
}

func TestLengthScorePeaksAtIdeal(t *testing.T) {
	r := NewScoreReranker()

	at := func(wc int) float64 { return r.lengthScore(wc) }

	if at(200) != 1.0 {
		t.Errorf("score at ideal = %v, want 1.0", at(200))
	}
	if !(at(200) > at(100) && at(100) > at(20)) {
		t.Error("score should decay below the ideal length")
	}
	if !(at(200) > at(300) && at(300) > at(600)) {
		t.Error("score should decay above the ideal length")
	}
	// Symmetric in absolute distance.
	if at(100) != at(300) {
		t.Errorf("scores at 100 and 300 differ: %v vs %v", at(100), at(300))
	}
}

func TestRerankOrdersByComposite(t *testing.T) {
	// Same similarity everywhere: keyword overlap must decide.
	candidates := []vectorstore.Candidate{
		{ChunkIndex: 0, Text: "The weather was pleasant all year.", Similarity: 0.8, WordCount: 200},
		{ChunkIndex: 1, Text: "Total revenue of 86,153 million EUR in 2023.", Similarity: 0.8, WordCount: 200},
		{ChunkIndex: 2, Text: "Revenue commentary without the year.", Similarity: 0.8, WordCount: 200},
	}

	r := NewScoreReranker()
	got, err := r.Rerank(context.Background(), "total revenue 2023", candidates, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}

	if got[0].ChunkIndex != 1 {
		t.Errorf("best chunk = %d, want 1", got[0].ChunkIndex)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Composite > got[i-1].Composite {
			t.Errorf("results not in descending order at %d", i)
		}
	}
}

func TestRerankTruncatesToTopK(t *testing.T) {
	candidates := make([]vectorstore.Candidate, 10)
	for i := range candidates {
		candidates[i] = vectorstore.Candidate{
			ChunkIndex: i,
			Text:       "filler text",
			Similarity: float32(i) / 10,
			WordCount:  150,
		}
	}

	r := NewScoreReranker()
	got, err := r.Rerank(context.Background(), "filler", candidates, 5)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	// Highest similarity wins when everything else is equal.
	if got[0].ChunkIndex != 9 {
		t.Errorf("best chunk = %d, want 9", got[0].ChunkIndex)
	}
}

func TestRerankTieBreaksByChunkIndex(t *testing.T) {
	candidates := []vectorstore.Candidate{
		{ChunkIndex: 5, Text: "same text", Similarity: 0.5, WordCount: 100},
		{ChunkIndex: 2, Text: "same text", Similarity: 0.5, WordCount: 100},
		{ChunkIndex: 8, Text: "same text", Similarity: 0.5, WordCount: 100},
	}

	r := NewScoreReranker()
	got, err := r.Rerank(context.Background(), "unrelated query", candidates, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}

	want := []int{2, 5, 8}
	for i, w := range want {
		if got[i].ChunkIndex != w {
			t.Errorf("position %d: chunk %d, want %d", i, got[i].ChunkIndex, w)
		}
	}
}

func TestRerankEmptyInput(t *testing.T) {
	r := NewScoreReranker()
	got, err := r.Rerank(context.Background(), "anything", nil, 5)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestCompositeMonotonicInEachSignal(t *testing.T) {
	r := NewScoreReranker()
	ctx := context.Background()
	rank := func(c vectorstore.Candidate) float64 {
		got, err := r.Rerank(ctx, "total revenue 2023", []vectorstore.Candidate{c}, 1)
		if err != nil {
			t.Fatalf("rerank: %v", err)
		}
		return got[0].Composite
	}

	base := vectorstore.Candidate{Text: "revenue figures", Similarity: 0.5, WordCount: 100}

	higherSim := base
	higherSim.Similarity = 0.9
	if !(rank(higherSim) > rank(base)) {
		t.Error("composite should grow with similarity")
	}

	moreKeywords := base
	moreKeywords.Text = "total revenue 2023 figures"
	if !(rank(moreKeywords) > rank(base)) {
		t.Error("composite should grow with keyword coverage")
	}

	betterLength := base
	betterLength.WordCount = 200
	if !(rank(betterLength) > rank(base)) {
		t.Error("composite should grow toward the ideal length")
	}
}

func TestRerankDeterministic(t *testing.T) {
	candidates := []vectorstore.Candidate{
		{ChunkIndex: 0, Text: "revenue grew in 2023", Similarity: 0.7, WordCount: 180},
		{ChunkIndex: 1, Text: "operating margin details", Similarity: 0.75, WordCount: 90},
		{ChunkIndex: 2, Text: "total revenue 2023 table", Similarity: 0.68, WordCount: 210},
	}

	r := NewScoreReranker()
	first, err := r.Rerank(context.Background(), "revenue 2023", candidates, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	second, err := r.Rerank(context.Background(), "revenue 2023", candidates, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different rankings")
	}
}
