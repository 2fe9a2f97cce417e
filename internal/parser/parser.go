// Package parser turns uploaded files into section-labelled documents.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docask/internal/doctree"
)

// Parser converts raw document bytes into a Document.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// titleFromFilename drops the directory and extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// assembler feeds a Builder, holding back a "Table N:" paragraph until it
// knows whether a table body follows it.
type assembler struct {
	b       *doctree.Builder
	pending string
}

func newAssembler(title string) *assembler {
	return &assembler{b: doctree.NewBuilder(title)}
}

func (a *assembler) section(heading string) {
	a.flush()
	a.b.Section(heading)
}

func (a *assembler) paragraph(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.flush()
	if doctree.IsTableCaption(text) {
		a.pending = text
		return
	}
	a.b.Paragraph(text)
}

func (a *assembler) table(caption, body string) {
	if strings.TrimSpace(caption) == "" {
		caption = a.pending
	} else {
		a.flush()
	}
	a.pending = ""
	a.b.Table(caption, body)
}

func (a *assembler) flush() {
	if a.pending != "" {
		a.b.Paragraph(a.pending)
		a.pending = ""
	}
}

func (a *assembler) build() *doctree.Document {
	a.flush()
	return a.b.Build()
}

// tableText lays out rows one per line with cells separated by " | ".
func tableText(rows [][]string) string {
	var sb strings.Builder
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
