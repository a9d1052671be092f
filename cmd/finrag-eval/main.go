// finrag-eval runs a golden-dataset evaluation against a running
// query server and reports keyword-match coverage per category and
// difficulty.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// goldenItem is one entry of the evaluation dataset.
type goldenItem struct {
	ID               int      `json:"id"`
	Question         string   `json:"question"`
	ExpectedKeywords []string `json:"expected_keywords"`
	Category         string   `json:"category"`
	Difficulty       string   `json:"difficulty"`
}

// questionResult is the per-question evaluation record.
type questionResult struct {
	ID           int     `json:"id"`
	Question     string  `json:"question"`
	Answer       string  `json:"answer"`
	Category     string  `json:"category"`
	Difficulty   string  `json:"difficulty"`
	KeywordMatch float64 `json:"keyword_match"`
	LatencyMS    int64   `json:"latency_ms"`
}

type groupStats struct {
	Count           int     `json:"count"`
	AvgKeywordMatch float64 `json:"avg_keyword_match"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
}

type report struct {
	TotalQuestions  int                   `json:"total_questions"`
	AvgKeywordMatch float64               `json:"avg_keyword_match"`
	AvgLatencyMS    float64               `json:"avg_latency_ms"`
	ByCategory      map[string]groupStats `json:"by_category"`
	ByDifficulty    map[string]groupStats `json:"by_difficulty"`
	Details         []questionResult      `json:"details"`
}

type queryResponse struct {
	Answer    string `json:"answer"`
	LatencyMS int64  `json:"latency_ms"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		datasetPath string
		serverURL   string
		apiKey      string
		outPath     string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "finrag-eval",
		Short: "Evaluate answer quality against a golden dataset",
		Long: `Runs every question of a golden dataset against a running query
server (caching disabled) and scores each answer by keyword coverage.
The report aggregates by category and difficulty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := runEval(cmd.Context(), datasetPath, serverURL, apiKey, timeout)
			if err != nil {
				return err
			}
			printReport(cmd, rep)
			if outPath != "" {
				return writeReport(outPath, rep)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "evaluation/golden_dataset.json", "Path to the golden dataset JSON")
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the query server")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key, if the server requires one")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the full JSON report to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Per-question request timeout")

	return cmd
}

func runEval(ctx context.Context, datasetPath, serverURL, apiKey string, timeout time.Duration) (*report, error) {
	data, err := os.ReadFile(datasetPath)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var dataset []goldenItem
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if len(dataset) == 0 {
		return nil, fmt.Errorf("dataset %s contains no questions", datasetPath)
	}

	client := &http.Client{Timeout: timeout}
	results := make([]questionResult, 0, len(dataset))

	for i, item := range dataset {
		resp, err := askQuestion(ctx, client, serverURL, apiKey, item.Question)
		if err != nil {
			return nil, fmt.Errorf("question %d (%q): %w", item.ID, item.Question, err)
		}

		km := keywordMatchScore(resp.Answer, item.ExpectedKeywords)
		results = append(results, questionResult{
			ID:           item.ID,
			Question:     item.Question,
			Answer:       resp.Answer,
			Category:     orUnknown(item.Category),
			Difficulty:   orUnknown(item.Difficulty),
			KeywordMatch: km,
			LatencyMS:    resp.LatencyMS,
		})

		fmt.Printf("  [%d/%d] %3.0f%% - %s\n", i+1, len(dataset), km*100, truncate(item.Question, 70))
	}

	return aggregate(results), nil
}

// askQuestion queries the server with caching off so every answer is
// freshly generated.
func askQuestion(ctx context.Context, client *http.Client, serverURL, apiKey, question string) (*queryResponse, error) {
	body, err := json.Marshal(map[string]any{
		"question":  question,
		"use_cache": false,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(serverURL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var raw bytes.Buffer
		raw.ReadFrom(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, raw.String())
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// keywordMatchScore returns the fraction of expected keywords found in
// the answer, case-insensitively. Intentionally simple: it gives a
// quick signal when the system is totally off.
func keywordMatchScore(answer string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(answer)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func aggregate(results []questionResult) *report {
	rep := &report{
		TotalQuestions: len(results),
		ByCategory:     groupBy(results, func(r questionResult) string { return r.Category }),
		ByDifficulty:   groupBy(results, func(r questionResult) string { return r.Difficulty }),
		Details:        results,
	}

	var kwSum, latSum float64
	for _, r := range results {
		kwSum += r.KeywordMatch
		latSum += float64(r.LatencyMS)
	}
	n := float64(len(results))
	rep.AvgKeywordMatch = round3(kwSum / n)
	rep.AvgLatencyMS = round2(latSum / n)
	return rep
}

func groupBy(results []questionResult, key func(questionResult) string) map[string]groupStats {
	groups := make(map[string][]questionResult)
	for _, r := range results {
		k := key(r)
		groups[k] = append(groups[k], r)
	}

	out := make(map[string]groupStats, len(groups))
	for k, items := range groups {
		var kwSum, latSum float64
		for _, r := range items {
			kwSum += r.KeywordMatch
			latSum += float64(r.LatencyMS)
		}
		n := float64(len(items))
		out[k] = groupStats{
			Count:           len(items),
			AvgKeywordMatch: round3(kwSum / n),
			AvgLatencyMS:    round2(latSum / n),
		}
	}
	return out
}

func printReport(cmd *cobra.Command, rep *report) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nQuestions:        %d\n", rep.TotalQuestions)
	fmt.Fprintf(w, "Keyword match:    %.1f%%\n", rep.AvgKeywordMatch*100)
	fmt.Fprintf(w, "Avg latency:      %.0f ms\n", rep.AvgLatencyMS)

	fmt.Fprintln(w, "\nBy category:")
	for _, k := range sortedKeys(rep.ByCategory) {
		g := rep.ByCategory[k]
		fmt.Fprintf(w, "  %-16s %3d questions, %5.1f%% match, %6.0f ms\n", k, g.Count, g.AvgKeywordMatch*100, g.AvgLatencyMS)
	}

	fmt.Fprintln(w, "\nBy difficulty:")
	for _, k := range sortedKeys(rep.ByDifficulty) {
		g := rep.ByDifficulty[k]
		fmt.Fprintf(w, "  %-16s %3d questions, %5.1f%% match, %6.0f ms\n", k, g.Count, g.AvgKeywordMatch*100, g.AvgLatencyMS)
	}
}

func writeReport(path string, rep *report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]groupStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func round2(v float64) float64 { return float64(int(v*100+0.5)) / 100 }
func round3(v float64) float64 { return float64(int(v*1000+0.5)) / 1000 }
