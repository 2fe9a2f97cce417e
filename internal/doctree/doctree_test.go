package doctree

import (
	"strings"
	"testing"
)

func sampleDoc() *Document {
	b := NewBuilder("Attention Study")
	b.Section("1 Introduction")
	b.Paragraph("We study attention. See Figure 1 for the model.")
	b.Section("2 Methods")
	b.Paragraph("We trained on three datasets.")
	b.Paragraph("Table 1: Dataset sizes")
	b.Section("3 Results")
	b.Paragraph("Accuracy improves, as Table 1 shows.")
	b.Figure("Figure 1: Model overview")
	b.Section("References")
	b.Paragraph("[1] Vaswani et al.")
	return b.Build()
}

func TestBuilder_SectionNumbering(t *testing.T) {
	doc := sampleDoc()
	if len(doc.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(doc.Blocks))
	}
	first := doc.Blocks[0]
	if first.Section != "Introduction" || first.SectionIndex != "1" {
		t.Errorf("expected section 1/Introduction, got %q/%q", first.SectionIndex, first.Section)
	}
	last := doc.Blocks[3]
	if last.Section != "References" || last.SectionIndex != "" {
		t.Errorf("expected unnumbered References, got %q/%q", last.SectionIndex, last.Section)
	}
}

func TestBuilder_CaptionsBecomeRefs(t *testing.T) {
	doc := sampleDoc()
	if len(doc.Refs) != 2 {
		t.Fatalf("expected 2 refs, got %d: %v", len(doc.Refs), doc.Refs)
	}
	tbl, ok := doc.Refs["table-1"]
	if !ok {
		t.Fatal("expected table-1 ref")
	}
	if tbl.Caption != "Dataset sizes" || tbl.Label != "Table 1" {
		t.Errorf("unexpected table ref: %+v", tbl)
	}
	for _, b := range doc.Blocks {
		if strings.HasPrefix(b.Text, "Table 1:") {
			t.Errorf("caption leaked into blocks: %q", b.Text)
		}
	}
}

func TestBuilder_CitationSpans(t *testing.T) {
	doc := sampleDoc()
	intro := doc.Blocks[0]
	if len(intro.Cites) != 1 {
		t.Fatalf("expected 1 cite in intro, got %d", len(intro.Cites))
	}
	c := intro.Cites[0]
	if c.RefID != "figure-1" {
		t.Errorf("expected figure-1, got %q", c.RefID)
	}
	if got := intro.Text[c.Start:c.End]; got != "Figure 1" {
		t.Errorf("cite span = %q, want %q", got, "Figure 1")
	}
}

func TestSectionLabels_OrderedUnique(t *testing.T) {
	doc := &Document{Blocks: []Block{
		{Section: "Intro", Text: "a"},
		{Section: "Intro", Text: "b"},
		{Section: "", Text: "c"},
		{Section: "Methods", Text: "d"},
		{Section: "Intro", Text: "e"},
	}}
	got := doc.SectionLabels()
	want := []string{"Intro", "Methods"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %v, want %v", got, want)
	}
}

func TestRender_HeadingsAndRefs(t *testing.T) {
	doc := sampleDoc()
	out := doc.Render("\n\n")

	for _, want := range []string{
		"# Attention Study",
		"## 1 Introduction",
		"[Figure 1: Model overview]",
		"## 3 Results",
		"[Table 1: Dataset sizes]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered text missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "[Table 1") != 1 {
		t.Errorf("expected table rendered once:\n%s", out)
	}
	if strings.Index(out, "[Figure 1") < strings.Index(out, "See Figure 1") {
		t.Error("figure should render after the block that cites it")
	}
	if strings.Contains(out, "## Figures and Tables") {
		t.Error("no uncited refs, trailer should be absent")
	}
}

func TestRender_UncitedRefsAtEnd(t *testing.T) {
	b := NewBuilder("")
	b.Section("Body")
	b.Paragraph("Nothing cited here.")
	b.Table("", "a | b")
	out := b.Build().Render("\n\n")
	if !strings.HasSuffix(out, "## Figures and Tables\n[Table 1]\na | b") {
		t.Errorf("unexpected trailer:\n%q", out)
	}
}

func TestRender_PreservesBlockOrder(t *testing.T) {
	doc := &Document{Blocks: []Block{
		{Section: "A", Text: "first"},
		{Section: "B", Text: "second"},
		{Section: "A", Text: "third"},
	}}
	out := doc.Render("\n\n")
	want := "## A\nfirst\n\n## B\nsecond\n\n## A\nthird"
	if out != want {
		t.Errorf("render = %q, want %q", out, want)
	}
}
