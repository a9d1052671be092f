package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileExtractor reads pre-extracted report text from a plain file, with
// pages separated by form feeds. Used for offline runs and tests where
// the PDF toolchain is not available.
type FileExtractor struct {
	path string
}

// NewFileExtractor creates an extractor for the text file at path.
func NewFileExtractor(path string) *FileExtractor {
	return &FileExtractor{path: path}
}

// Extract loads the file and splits it into cleaned pages.
func (e *FileExtractor) Extract(ctx context.Context) ([]Page, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDocumentUnavailable, e.path, err)
	}

	pages := splitPages(string(data))
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: empty report file %s", ErrDocumentUnavailable, e.path)
	}
	return pages, nil
}

// ForPath picks the extractor implementation from the file extension.
func ForPath(path string) Extractor {
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return NewPDFExtractor(path)
	}
	return NewFileExtractor(path)
}

var _ Extractor = (*FileExtractor)(nil)
