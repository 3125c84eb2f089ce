package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guide = `Read this first.

# Guide

Welcome.

## Install

Run it.

### Linux

Use apt.

## Usage

Call it.
`

func TestMarkdownSplit_SectionsCarryHeaderPath(t *testing.T) {
	chunks, err := NewMarkdown(0).Split([]byte(guide))
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	tests := []struct {
		path string
		raw  string
	}{
		{"", "Read this first."},
		{"# Guide", "# Guide\n\nWelcome."},
		{"# Guide > ## Install", "## Install\n\nRun it.\n\n### Linux\n\nUse apt."},
		{"# Guide > ## Usage", "## Usage\n\nCall it."},
	}
	for i, tt := range tests {
		c := chunks[i]
		assert.Equal(t, i, c.Index)
		assert.Equal(t, tt.path, c.HeaderPath)
		assert.Equal(t, tt.raw, c.RawContent)
		if tt.path == "" {
			assert.Equal(t, c.RawContent, c.Content, "preamble has no header prefix")
		} else {
			assert.Equal(t, tt.path+"\n\n"+tt.raw, c.Content)
		}
	}
}

func TestMarkdownSplit_LongSectionKeepsItsPath(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Guide\n\n## Install\n\n")
	for i := 1; i <= 4; i++ {
		b.WriteString("step ")
		b.WriteString(string(rune('0' + i)))
		b.WriteString(": run the installer\n\n")
	}

	chunks, err := NewMarkdown(40).Split([]byte(b.String()))
	require.NoError(t, err)

	var install []Chunk
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.RawContent), 40)
		if c.HeaderPath == "# Guide > ## Install" {
			install = append(install, c)
		}
	}
	require.Len(t, install, 4)
	assert.True(t, strings.HasPrefix(install[0].RawContent, "## Install\n\nstep 1"))
	for i, c := range install {
		assert.Contains(t, c.RawContent, "step "+string(rune('1'+i)))
		assert.True(t, strings.HasPrefix(c.Content, "# Guide > ## Install\n\n"))
	}
}

func TestMarkdownSplit_HeadingInsideCodeBlockIsNotABoundary(t *testing.T) {
	source := "# Scripts\n\n```sh\n# install deps\nmake deps\n```\n"

	chunks, err := NewMarkdown(0).Split([]byte(source))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "# Scripts", chunks[0].HeaderPath)
	assert.Contains(t, chunks[0].RawContent, "# install deps")
}

func TestMarkdownSplit_WithoutHeadingsFallsBackToText(t *testing.T) {
	chunks, err := NewMarkdown(0).Split([]byte("just text\n\nmore text"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].HeaderPath)
	assert.Equal(t, "just text\n\nmore text", chunks[0].RawContent)
	assert.Equal(t, chunks[0].RawContent, chunks[0].Content)
}

func TestMarkdownSplit_Empty(t *testing.T) {
	chunks, err := NewMarkdown(0).Split(nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestForMimeType_MarkdownVersusPlainText(t *testing.T) {
	md, err := ForMimeType("text/markdown", 0).Split([]byte(guide))
	require.NoError(t, err)
	plain, err := ForMimeType("text/plain", 0).Split([]byte(guide))
	require.NoError(t, err)

	assert.Len(t, md, 4)
	require.Len(t, plain, 1, "plain text ignores headings")
	assert.Empty(t, plain[0].HeaderPath)
	assert.Contains(t, plain[0].RawContent, "## Usage")
}

func TestFormatHeaderPath(t *testing.T) {
	assert.Equal(t, "", formatHeaderPath(nil))
	assert.Equal(t, "# Guide", formatHeaderPath([]string{"Guide"}))
	assert.Equal(t, "# Guide > ## Install", formatHeaderPath([]string{"Guide", "Install"}))
}
