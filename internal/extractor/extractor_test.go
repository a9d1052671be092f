package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCleanPageText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "euro sign expands",
			in:   "Revenue: €86,153",
			want: "Revenue: EUR 86,153",
		},
		{
			name: "plural unit normalized",
			in:   "in EUR millions",
			want: "in EUR million",
		},
		{
			name: "whitespace collapses",
			in:   "Total   revenue\n\n\t 2023",
			want: "Total revenue 2023",
		},
		{
			name: "control characters dropped",
			in:   "clean\x00\a text",
			want: "clean text",
		},
		{
			name: "empty stays empty",
			in:   "   \n\t ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanPageText(tt.in); got != tt.want {
				t.Errorf("CleanPageText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitPages(t *testing.T) {
	got := splitPages("page one text\fpage two text\fpage three")
	if len(got) != 3 {
		t.Fatalf("pages = %d, want 3", len(got))
	}
	for i, p := range got {
		if p.Number != i+1 {
			t.Errorf("page %d numbered %d", i, p.Number)
		}
	}
	if got[1].Text != "page two text" {
		t.Errorf("page 2 = %q", got[1].Text)
	}
}

func TestSplitPagesKeepsEmptyPageNumbering(t *testing.T) {
	// An empty page in the middle must not shift later page numbers.
	got := splitPages("first\f\fthird")
	if len(got) != 3 {
		t.Fatalf("pages = %d, want 3", len(got))
	}
	if got[2].Number != 3 || got[2].Text != "third" {
		t.Errorf("page 3 = %+v", got[2])
	}
}

func TestFileExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	content := "Revenue was €86,153 million in 2023.\fProfit details follow."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pages, err := NewFileExtractor(path).Extract(context.Background())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if pages[0].Text != "Revenue was EUR 86,153 million in 2023." {
		t.Errorf("page 1 = %q", pages[0].Text)
	}
}

func TestFileExtractorMissingFile(t *testing.T) {
	_, err := NewFileExtractor("/nonexistent/report.txt").Extract(context.Background())
	if !errors.Is(err, ErrDocumentUnavailable) {
		t.Fatalf("expected ErrDocumentUnavailable, got %v", err)
	}
}

func TestForPath(t *testing.T) {
	if _, ok := ForPath("report.PDF").(*PDFExtractor); !ok {
		t.Error("pdf extension should pick PDFExtractor")
	}
	if _, ok := ForPath("report.txt").(*FileExtractor); !ok {
		t.Error("txt extension should pick FileExtractor")
	}
}
