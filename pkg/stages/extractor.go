package stages

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat is returned for documents the extractor cannot read.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// PageBreak separates pages in plain-text documents and in normalized text.
const PageBreak = "\f"

// PlainTextExtractor implements ports.TextExtractor for UTF-8 text and markdown.
// Form feeds split pages.
type PlainTextExtractor struct{}

// Supports reports whether the extractor can read the document.
func (PlainTextExtractor) Supports(filename, contentType string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".text":
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return ct == "text/plain" || ct == "text/markdown"
}

// Extract returns the text of every page.
func (e PlainTextExtractor) Extract(ctx context.Context, filename, contentType string, data []byte) ([]string, error) {
	if !e.Supports(filename, contentType) {
		return nil, ErrUnsupportedFormat
	}
	if !utf8.Valid(data) {
		return nil, errors.New("document is not valid UTF-8")
	}
	return strings.Split(string(data), PageBreak), nil
}
