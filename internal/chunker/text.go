package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text packs paragraphs greedily into chunks of at most MaxChars characters.
// A paragraph longer than MaxChars is cut, preferring a whitespace boundary.
type Text struct {
	MaxChars int
}

// NewText creates a paragraph packer. Non-positive maxChars selects DefaultMaxChars.
func NewText(maxChars int) *Text {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Text{MaxChars: maxChars}
}

func (t *Text) Split(source []byte) ([]Chunk, error) {
	var chunks []Chunk
	for _, piece := range t.pack(string(source)) {
		chunks = append(chunks, newChunk("", piece))
	}
	return reindex(chunks), nil
}

// pack returns the packed pieces of s with surrounding whitespace trimmed.
func (t *Text) pack(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var (
		pieces  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > t.MaxChars {
			flush()
			pieces = append(pieces, t.cut(para)...)
			continue
		}
		if size > 0 && size+2+n > t.MaxChars {
			flush()
		}
		if size > 0 {
			current.WriteString("\n\n")
			size += 2
		}
		current.WriteString(para)
		size += n
	}
	flush()
	return pieces
}

// cut splits an oversized paragraph on rune boundaries.
func (t *Text) cut(para string) []string {
	var pieces []string
	for utf8.RuneCountInString(para) > t.MaxChars {
		end := byteOffset(para, t.MaxChars)
		// Back up to the last space in the second half of the window.
		if i := strings.LastIndexFunc(para[:end], unicode.IsSpace); i > end/2 {
			end = i
		}
		if piece := strings.TrimSpace(para[:end]); piece != "" {
			pieces = append(pieces, piece)
		}
		para = strings.TrimSpace(para[end:])
	}
	if para != "" {
		pieces = append(pieces, para)
	}
	return pieces
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
