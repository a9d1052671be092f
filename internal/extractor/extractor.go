// Package extractor turns a source report into ordered page texts.
//
// PDF parsing itself is an external collaborator: implementations wrap a
// tool or pre-extracted file and only promise ordered, cleaned pages.
package extractor

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrDocumentUnavailable is returned when the source report cannot be read.
var ErrDocumentUnavailable = errors.New("document unavailable")

// Page is one page of extracted report text, 1-based.
type Page struct {
	Number int
	Text   string
}

// Extractor produces the ordered pages of a single report.
type Extractor interface {
	Extract(ctx context.Context) ([]Page, error)
}

var multiSpace = regexp.MustCompile(`\s+`)

// CleanPageText normalizes raw extracted text: collapses whitespace,
// strips non-printable characters, and normalizes currency markers so
// financial tables tokenize consistently.
func CleanPageText(text string) string {
	text = strings.ReplaceAll(text, "EUR millions", "EUR million")
	text = strings.ReplaceAll(text, "€", " EUR ")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(multiSpace.ReplaceAllString(b.String(), " "))
}
