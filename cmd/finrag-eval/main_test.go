package main

import "testing"

func TestKeywordMatchScore(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		keywords []string
		want     float64
	}{
		{
			name:     "full match case-insensitive",
			answer:   "LVMH reported total revenue of 86,153 million euros [Page 52].",
			keywords: []string{"86,153", "euros"},
			want:     1,
		},
		{
			name:     "partial match",
			answer:   "Revenue grew in 2023.",
			keywords: []string{"revenue", "86,153"},
			want:     0.5,
		},
		{
			name:     "no keywords",
			answer:   "anything",
			keywords: nil,
			want:     0,
		},
		{
			name:     "empty answer",
			answer:   "",
			keywords: []string{"revenue"},
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keywordMatchScore(tt.answer, tt.keywords); got != tt.want {
				t.Errorf("keywordMatchScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregateGroups(t *testing.T) {
	results := []questionResult{
		{ID: 1, Category: "revenue", Difficulty: "easy", KeywordMatch: 1, LatencyMS: 100},
		{ID: 2, Category: "revenue", Difficulty: "hard", KeywordMatch: 0.5, LatencyMS: 300},
		{ID: 3, Category: "margin", Difficulty: "easy", KeywordMatch: 0, LatencyMS: 200},
	}

	rep := aggregate(results)

	if rep.TotalQuestions != 3 {
		t.Fatalf("total = %d, want 3", rep.TotalQuestions)
	}
	if rep.AvgKeywordMatch != 0.5 {
		t.Errorf("avg match = %v, want 0.5", rep.AvgKeywordMatch)
	}
	if rep.AvgLatencyMS != 200 {
		t.Errorf("avg latency = %v, want 200", rep.AvgLatencyMS)
	}

	rev := rep.ByCategory["revenue"]
	if rev.Count != 2 || rev.AvgKeywordMatch != 0.75 {
		t.Errorf("revenue group = %+v", rev)
	}
	easy := rep.ByDifficulty["easy"]
	if easy.Count != 2 || easy.AvgKeywordMatch != 0.5 {
		t.Errorf("easy group = %+v", easy)
	}
}
