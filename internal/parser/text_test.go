package parser

import (
	"strings"
	"testing"
)

func TestTextParser_BasicParagraphSplitting(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", doc.Title)
	}
	if len(doc.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(doc.Blocks))
	}

	want := []string{
		"First paragraph line one.\nFirst paragraph line two.",
		"Second paragraph.",
		"Third paragraph.",
	}
	for i, w := range want {
		if doc.Blocks[i].Text != w {
			t.Errorf("block[%d]: expected %q, got %q", i, w, doc.Blocks[i].Text)
		}
	}
}

func TestTextParser_EmptyInput(t *testing.T) {
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "empty" {
		t.Errorf("expected title %q, got %q", "empty", doc.Title)
	}
	if len(doc.Blocks) != 0 {
		t.Errorf("expected 0 blocks for empty input, got %d", len(doc.Blocks))
	}
}

func TestTextParser_MultipleBlankLines(t *testing.T) {
	// Multiple consecutive blank lines should not produce empty paragraphs.
	input := "Para one.\n\n\n\nPara two."
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "gaps.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(doc.Blocks))
	}
}

func TestTextParser_WhitespaceOnlyLines(t *testing.T) {
	// Lines with only whitespace should be treated as blank.
	input := "Para one.\n   \nPara two."
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "ws.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(doc.Blocks))
	}
}

func TestTextParser_Sections(t *testing.T) {
	input := `Abstract

We study things.

1 Introduction

Things matter. Figure 1 shows why.

Figure 1: Why things matter.

2.1 Experimental Setup

We ran it twice.

References

[1] Someone. A paper.`

	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "paper.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"Abstract", "Introduction", "Experimental Setup", "References"}
	if got := doc.SectionLabels(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("labels = %v, want %v", got, want)
	}
	if got := doc.Blocks[2].SectionIndex; got != "2.1" {
		t.Errorf("section index = %q, want 2.1", got)
	}
	if _, ok := doc.Refs["figure-1"]; !ok {
		t.Errorf("expected figure-1 ref, got %v", doc.Refs)
	}
	if len(doc.Blocks[1].Cites) != 1 {
		t.Errorf("expected a cite in %q", doc.Blocks[1].Text)
	}
}

func TestIsHeading(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Introduction", true},
		{"RESULTS", true},
		{"Conclusions.", true},
		{"3 Method Overview", true},
		{"IV. Discussion", true},
		{"1. We first collect the data.", false},
		{"This is an ordinary sentence that happens to be short.", false},
		{"2 Methods\nsecond line", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isHeading(tt.in); got != tt.want {
			t.Errorf("isHeading(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
