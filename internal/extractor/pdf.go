package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// PDFExtractor extracts page texts from a PDF by shelling out to
// pdftotext (poppler). Pages arrive separated by form feeds in layout
// order, which preserves the page numbering the citations rely on.
type PDFExtractor struct {
	path   string
	binary string
}

// NewPDFExtractor creates an extractor for the PDF at path.
func NewPDFExtractor(path string) *PDFExtractor {
	return &PDFExtractor{path: path, binary: "pdftotext"}
}

// Extract runs pdftotext and splits its output into cleaned pages.
func (e *PDFExtractor) Extract(ctx context.Context) ([]Page, error) {
	if _, err := os.Stat(e.path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDocumentUnavailable, e.path, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, "-layout", "-enc", "UTF-8", e.path, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: pdftotext failed: %v: %s", ErrDocumentUnavailable, err, strings.TrimSpace(stderr.String()))
	}

	pages := splitPages(stdout.String())
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no text extracted from %s", ErrDocumentUnavailable, e.path)
	}
	return pages, nil
}

// splitPages converts form-feed separated text into numbered pages.
// Pages that are empty after cleaning keep their number so citations on
// later pages stay aligned with the printed report.
func splitPages(text string) []Page {
	raw := strings.Split(text, "\f")

	// pdftotext emits a trailing form feed after the last page.
	if n := len(raw); n > 0 && strings.TrimSpace(raw[n-1]) == "" {
		raw = raw[:n-1]
	}

	pages := make([]Page, 0, len(raw))
	for i, pageText := range raw {
		pages = append(pages, Page{
			Number: i + 1,
			Text:   CleanPageText(pageText),
		})
	}
	return pages
}

// Ensure PDFExtractor implements Extractor.
var _ Extractor = (*PDFExtractor)(nil)
