package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// documentXML is the part of word/document.xml that carries text.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// docxText reads word/document.xml and joins paragraphs with blank lines so
// the paragraph packer keeps them apart.
func docxText(content []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: not a docx archive", ErrCorrupt)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		var doc documentXML
		if err := xml.Unmarshal(data, &doc); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		var paras []string
		for _, p := range doc.Body.Paragraphs {
			var b strings.Builder
			for _, r := range p.Runs {
				for _, t := range r.Text {
					b.WriteString(t.Content)
				}
			}
			if s := strings.TrimSpace(b.String()); s != "" {
				paras = append(paras, s)
			}
		}
		return strings.Join(paras, "\n\n"), nil
	}
	return "", fmt.Errorf("%w: missing word/document.xml", ErrCorrupt)
}
