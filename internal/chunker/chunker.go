// Package chunker splits extracted document text into ordered chunks.
package chunker

import "strings"

// DefaultMaxChars bounds the size of a single chunk, in characters.
const DefaultMaxChars = 2000

// Chunk is one ordered piece of a document.
type Chunk struct {
	Index      int    // Position in document (0, 1, 2...)
	HeaderPath string // Hierarchy: "# Doc Title > ## Section Name", empty for plain text
	Content    string // Chunk content WITH header path prepended, used for embedding
	RawContent string // Original content without header prefix, stored as chunk text
}

// Splitter turns a document body into chunks.
type Splitter interface {
	Split(source []byte) ([]Chunk, error)
}

// ForMimeType picks the splitter for a content type. Markdown gets
// header-aware chunking; everything else is packed by paragraph.
func ForMimeType(mimeType string, maxChars int) Splitter {
	if strings.HasPrefix(mimeType, "text/markdown") || strings.HasPrefix(mimeType, "text/x-markdown") {
		return NewMarkdown(maxChars)
	}
	return NewText(maxChars)
}

func newChunk(headerPath, raw string) Chunk {
	c := Chunk{HeaderPath: headerPath, RawContent: raw, Content: raw}
	if headerPath != "" {
		c.Content = headerPath + "\n\n" + raw
	}
	return c
}

func reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}
