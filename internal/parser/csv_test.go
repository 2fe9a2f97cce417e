package parser

import (
	"fmt"
	"strings"
	"testing"
)

func TestCSVParser(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,score\n")
	for i := range 25 {
		fmt.Fprintf(&sb, "n%d,%d\n", i, i*10)
	}

	p := &CSVParser{}
	doc, err := p.Parse(strings.NewReader(sb.String()), "scores.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "scores" {
		t.Errorf("title = %q", doc.Title)
	}
	if got := strings.Join(doc.SectionLabels(), "|"); got != "Rows 2-21|Rows 22-26" {
		t.Errorf("labels = %q", got)
	}
	if !strings.HasPrefix(doc.Blocks[0].Text, "name: n0, score: 0\nname: n1, score: 10") {
		t.Errorf("first block = %q", doc.Blocks[0].Text)
	}
}

func TestCSVParser_Empty(t *testing.T) {
	p := &CSVParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Blocks) != 0 {
		t.Errorf("expected no blocks, got %d", len(doc.Blocks))
	}
}

func TestForFile(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"a.txt", "*parser.TextParser", false},
		{"a.MD", "*parser.MarkdownParser", false},
		{"a.markdown", "*parser.MarkdownParser", false},
		{"a.htm", "*parser.HTMLParser", false},
		{"a.pdf", "*parser.PDFParser", false},
		{"a.docx", "*parser.DOCXParser", false},
		{"a.csv", "*parser.CSVParser", false},
		{"a.exe", "", true},
	}
	for _, tt := range tests {
		p, err := ForFile(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.name)
			}
			if IsSupportedExtension(tt.name) {
				t.Errorf("%s: reported as supported", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got := fmt.Sprintf("%T", p); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
		if !IsSupportedExtension(tt.name) {
			t.Errorf("%s: not reported as supported", tt.name)
		}
	}
}

func TestPagesToDocument(t *testing.T) {
	pages := []string{
		"1 Introduction\n\nFirst page text.",
		"Continued on page two.\n\n2 Methods\n\nMethod text.",
	}
	doc := pagesToDocument("paper", pages)

	if len(doc.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(doc.Blocks))
	}
	if b := doc.Blocks[1]; b.Section != "Introduction" || b.Page != 2 {
		t.Errorf("continuation block = %+v", b)
	}
	if b := doc.Blocks[2]; b.Section != "Methods" || b.Page != 2 {
		t.Errorf("methods block = %+v", b)
	}
}
