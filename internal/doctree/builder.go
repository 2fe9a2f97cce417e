package doctree

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	// "3.2 Results", "IV. Discussion", "2) Methods"
	numberedHeadingRe = regexp.MustCompile(`^((?:\d+\.)*\d+|[IVXLC]+)[.)]?\s+(\S.*)$`)
	captionRe         = regexp.MustCompile(`^(?i)(figure|fig\.|table)\s+(\d+)\s*[:.]\s*(.*)$`)
	mentionRe         = regexp.MustCompile(`\b(?i)(figure|fig\.|table)\s+(\d+)`)
)

// Builder accumulates blocks and references in reading order.
type Builder struct {
	doc     Document
	section string
	index   string
	page    int
	tables  int
	figures int
}

// NewBuilder starts a document with the given title.
func NewBuilder(title string) *Builder {
	return &Builder{doc: Document{Title: title, Refs: make(map[string]Ref)}}
}

// Section starts a new section. Leading numbering is split into SectionIndex.
func (b *Builder) Section(heading string) {
	heading = strings.Join(strings.Fields(heading), " ")
	if heading == "" {
		return
	}
	if m := numberedHeadingRe.FindStringSubmatch(heading); m != nil {
		b.index, b.section = m[1], m[2]
		return
	}
	b.index, b.section = "", heading
}

// CurrentSection returns the active section label.
func (b *Builder) CurrentSection() string { return b.section }

// Page sets the source page for subsequent paragraphs.
func (b *Builder) Page(n int) { b.page = n }

// Paragraph appends a text block. A paragraph that reads as a figure or table
// caption becomes a reference instead.
func (b *Builder) Paragraph(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if m := captionRe.FindStringSubmatch(text); m != nil {
		b.addRef(kindOf(m[1]), m[2], strings.TrimSpace(m[3]), "")
		return
	}
	b.doc.Blocks = append(b.doc.Blocks, Block{
		Section:      b.section,
		SectionIndex: b.index,
		Text:         text,
		Page:         b.page,
	})
}

// Table records a table body. caption may carry its own "Table N:" label.
func (b *Builder) Table(caption, body string) string {
	caption = strings.TrimSpace(caption)
	if m := captionRe.FindStringSubmatch(caption); m != nil && kindOf(m[1]) == RefTable {
		return b.addRef(RefTable, m[2], strings.TrimSpace(m[3]), body)
	}
	return b.addRef(RefTable, "", caption, body)
}

// Figure records a figure caption.
func (b *Builder) Figure(caption string) string {
	caption = strings.TrimSpace(caption)
	if m := captionRe.FindStringSubmatch(caption); m != nil && kindOf(m[1]) == RefFigure {
		return b.addRef(RefFigure, m[2], strings.TrimSpace(m[3]), "")
	}
	return b.addRef(RefFigure, "", caption, "")
}

// IsTableCaption reports whether text reads as a "Table N:" caption. Parsers
// hold such a paragraph back so it can label the table that follows.
func IsTableCaption(text string) bool {
	m := captionRe.FindStringSubmatch(strings.TrimSpace(text))
	return m != nil && kindOf(m[1]) == RefTable
}

func (b *Builder) addRef(kind RefKind, number, caption, body string) string {
	counter := &b.figures
	name := "Figure"
	if kind == RefTable {
		counter = &b.tables
		name = "Table"
	}
	if number == "" {
		*counter++
		number = strconv.Itoa(*counter)
	} else if n, err := strconv.Atoi(number); err == nil && n > *counter {
		*counter = n
	}
	id := fmt.Sprintf("%s-%s", kind, number)
	ref := Ref{ID: id, Kind: kind, Label: name + " " + number, Caption: caption, Text: body}
	if old, ok := b.doc.Refs[id]; ok {
		// A table body and its caption often arrive separately.
		if ref.Caption == "" {
			ref.Caption = old.Caption
		}
		if ref.Text == "" {
			ref.Text = old.Text
		}
	}
	b.doc.Refs[id] = ref
	return id
}

// Build links mentions like "Table 2" to recorded references and returns
// the document.
func (b *Builder) Build() *Document {
	for i := range b.doc.Blocks {
		blk := &b.doc.Blocks[i]
		blk.Cites = nil
		for _, loc := range mentionRe.FindAllStringSubmatchIndex(blk.Text, -1) {
			kind := kindOf(blk.Text[loc[2]:loc[3]])
			id := fmt.Sprintf("%s-%s", kind, blk.Text[loc[4]:loc[5]])
			if _, ok := b.doc.Refs[id]; ok {
				blk.Cites = append(blk.Cites, Cite{Start: loc[0], End: loc[1], RefID: id})
			}
		}
	}
	if len(b.doc.Refs) == 0 {
		b.doc.Refs = nil
	}
	doc := b.doc
	return &doc
}

func kindOf(word string) RefKind {
	if strings.HasPrefix(strings.ToLower(word), "tab") {
		return RefTable
	}
	return RefFigure
}

// sortRefs orders references by kind then numeric label.
func sortRefs(refs []Ref) {
	slices.SortFunc(refs, func(a, b Ref) int {
		if a.Kind != b.Kind {
			return strings.Compare(string(a.Kind), string(b.Kind))
		}
		an, _ := strconv.Atoi(strings.TrimPrefix(a.ID, string(a.Kind)+"-"))
		bn, _ := strconv.Atoi(strings.TrimPrefix(b.ID, string(b.Kind)+"-"))
		return an - bn
	})
}
