package chunker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Markdown splits markdown documents at header boundaries while preserving context.
// Sections longer than the character limit are packed further by paragraph.
type Markdown struct {
	parser   goldmark.Markdown
	maxDepth int
	text     *Text
}

// NewMarkdown creates a markdown splitter that breaks at H1 and H2 headers.
func NewMarkdown(maxChars int) *Markdown {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Markdown{
		parser:   md,
		maxDepth: 2,
		text:     NewText(maxChars),
	}
}

type section struct {
	id   string
	path []string
}

// Split returns the preamble (if any) followed by one or more chunks per
// H1/H2 section. Each chunk's Content has the header path prepended.
func (m *Markdown) Split(source []byte) ([]Chunk, error) {
	doc := m.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(m.maxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	sections := flatten(tree.Items, nil, nil)
	if len(sections) == 0 {
		return m.text.Split(source)
	}

	headings := headingsByID(doc)
	type boundary struct {
		start int
		path  string
	}
	var bounds []boundary
	for _, s := range sections {
		h, ok := headings[s.id]
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		bounds = append(bounds, boundary{
			start: lineStart(source, h.Lines().At(0).Start),
			path:  formatHeaderPath(s.path),
		})
	}
	if len(bounds) == 0 {
		return m.text.Split(source)
	}

	var chunks []Chunk
	add := func(path string, body []byte) {
		for _, piece := range m.text.pack(string(body)) {
			chunks = append(chunks, newChunk(path, piece))
		}
	}

	add("", source[:bounds[0].start])
	for i, b := range bounds {
		end := len(source)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}
		add(b.path, source[b.start:end])
	}
	return reindex(chunks), nil
}

// flatten lists TOC items in document order with their ancestor titles.
func flatten(items toc.Items, ancestors []string, out []section) []section {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))
		if len(item.ID) > 0 {
			out = append(out, section{id: string(item.ID), path: path})
		}
		out = flatten(item.Items, path, out)
	}
	return out
}

func headingsByID(root ast.Node) map[string]*ast.Heading {
	found := make(map[string]*ast.Heading)
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if id, ok := heading.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				found[string(b)] = heading
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// lineStart returns the offset of the beginning of the line containing pos.
func lineStart(source []byte, pos int) int {
	return bytes.LastIndexByte(source[:pos], '\n') + 1
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, len(path))
	for i, segment := range path {
		parts[i] = strings.Repeat("#", i+1) + " " + segment
	}
	return strings.Join(parts, " > ")
}
