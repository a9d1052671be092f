// Package chunker splits extracted report pages into overlapping
// fixed-size text windows with page provenance.
package chunker

import (
	"regexp"
	"strings"

	"finrag/internal/extractor"
)

// Chunk is a bounded text window cut from the page stream.
type Chunk struct {
	Text   string
	Page   int // page where the chunk starts
	Offset int // rune offset into the joined page stream
	Index  int // insertion order, 0-based

	HasNumbers bool
	WordCount  int
}

// Config holds chunking parameters.
type Config struct {
	Size    int // window size in characters
	Overlap int // characters shared with the previous window
}

// Chunker cuts page texts into overlapping character windows.
type Chunker struct {
	config Config
}

// pageSeparator joins consecutive pages into one stream so a window can
// span a page boundary without losing attribution.
const pageSeparator = "\n"

// New creates a Chunker with the given configuration. A non-positive
// Size or Overlap falls back to the default; an Overlap at or above the
// window size is clamped to Size-1 so windows always advance.
func New(config Config) *Chunker {
	if config.Size <= 0 {
		config.Size = 700
	}
	if config.Overlap <= 0 {
		config.Overlap = 150
	}
	if config.Overlap >= config.Size {
		config.Overlap = config.Size - 1
	}
	return &Chunker{config: config}
}

var numberPattern = regexp.MustCompile(`\d`)

// Chunk splits the ordered pages into overlapping windows. A window that
// spans a page boundary is attributed to the page where it starts; the
// final window is kept even when shorter than the configured size.
func (c *Chunker) Chunk(pages []extractor.Page) []Chunk {
	if len(pages) == 0 {
		return nil
	}

	// Join pages into a single rune stream, remembering where each
	// non-empty page starts so windows can be attributed back to a page
	// number. Empty pages contribute no text and never own a window.
	var sb strings.Builder
	var marks []pageMark
	streamLen := 0
	for i, page := range pages {
		if i > 0 {
			sb.WriteString(pageSeparator)
			streamLen += len([]rune(pageSeparator))
		}
		if page.Text != "" {
			marks = append(marks, pageMark{start: streamLen, number: page.Number})
		}
		sb.WriteString(page.Text)
		streamLen += len([]rune(page.Text))
	}

	runes := []rune(sb.String())
	if len(marks) == 0 || len(strings.TrimSpace(string(runes))) == 0 {
		return nil
	}

	step := c.config.Size - c.config.Overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.config.Size
		if end > len(runes) {
			end = len(runes)
		}

		text := string(runes[start:end])
		chunks = append(chunks, Chunk{
			Text:       text,
			Page:       pageAt(marks, start),
			Offset:     start,
			Index:      len(chunks),
			HasNumbers: numberPattern.MatchString(text),
			WordCount:  len(strings.Fields(text)),
		})

		// The window reaching the end of the stream is the final one;
		// stepping past it would emit a pure-overlap duplicate.
		if end >= len(runes) {
			break
		}
	}

	return chunks
}

// Config returns the effective chunking configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// pageMark records the stream offset where a non-empty page begins.
type pageMark struct {
	start  int
	number int
}

// pageAt returns the number of the content page containing the given
// stream offset. Offsets before the first content page (separators left
// by empty leading pages) attribute forward to it.
func pageAt(marks []pageMark, offset int) int {
	page := marks[0].number
	for _, m := range marks {
		if m.start > offset {
			break
		}
		page = m.number
	}
	return page
}

// Reconstruct joins chunk texts back into the original page stream by
// dropping each window's declared overlap. Used to verify that chunking
// is lossless.
func Reconstruct(chunks []Chunk, overlap int) string {
	var sb strings.Builder
	for i, chunk := range chunks {
		runes := []rune(chunk.Text)
		if i > 0 {
			skip := overlap
			if skip > len(runes) {
				skip = len(runes)
			}
			runes = runes[skip:]
		}
		sb.WriteString(string(runes))
	}
	return sb.String()
}
