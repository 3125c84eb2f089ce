// Package extract turns stored file bytes into plain text for chunking.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

// Supported content types.
const (
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	// ErrUnsupported indicates a content type with no extractor.
	ErrUnsupported = errors.New("unsupported file type")

	// ErrCorrupt indicates content that does not parse as its declared type.
	ErrCorrupt = errors.New("corrupt document")
)

// Extractor dispatches on content type.
type Extractor struct {
	runner CommandRunner
}

// New creates an extractor that shells out to pdftotext for PDFs.
func New() *Extractor {
	return &Extractor{runner: execRunner{}}
}

// NewWithRunner creates an extractor with a custom command runner.
func NewWithRunner(runner CommandRunner) *Extractor {
	return &Extractor{runner: runner}
}

// Extract returns the text content of a document of the given type.
func (e *Extractor) Extract(ctx context.Context, mimeType string, content []byte) (string, error) {
	mediaType := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mediaType = parsed
	}

	switch mediaType {
	case MimePlain, MimeMarkdown, "text/x-markdown":
		return plainText(content), nil
	case MimeDOCX:
		return docxText(content)
	case MimePDF:
		return e.pdfText(ctx, content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
}

// plainText strips a UTF-8 byte order mark and replaces invalid sequences.
func plainText(content []byte) string {
	s := strings.TrimPrefix(string(content), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}
