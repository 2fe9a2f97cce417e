// Package doctree holds the structured document model shared by the parsers,
// the stores and the query engine.
package doctree

import "strings"

// RefKind distinguishes auxiliary reference entries.
type RefKind string

const (
	RefFigure RefKind = "figure"
	RefTable  RefKind = "table"
)

// Document is a parsed file. Block order is the canonical reading order.
type Document struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Source string         `json:"source,omitempty"` // Original filename
	Hash   string         `json:"hash,omitempty"`   // Hex SHA-256 of the raw upload
	Blocks []Block        `json:"blocks"`
	Refs   map[string]Ref `json:"refs,omitempty"`
}

// Block is one paragraph of text under a section heading. Section is the
// heading label ("Results") and SectionIndex its numbering ("3.2"), if any.
type Block struct {
	Section      string `json:"section"`
	SectionIndex string `json:"section_index,omitempty"`
	Text         string `json:"text"`
	Page         int    `json:"page,omitempty"`
	Cites        []Cite `json:"cites,omitempty"`
}

// Cite marks a mention of a Ref inside Block.Text, as byte offsets.
type Cite struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	RefID string `json:"ref_id"`
}

// Ref is a figure or table, cross-referenced from blocks. ID looks like
// "figure-2" and Label like "Figure 2"; Text holds a table body.
type Ref struct {
	ID      string  `json:"id"`
	Kind    RefKind `json:"kind"`
	Label   string  `json:"label"`
	Caption string  `json:"caption,omitempty"`
	Text    string  `json:"text,omitempty"`
}

// SectionLabels returns each distinct non-empty section label in document order.
func (d *Document) SectionLabels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, b := range d.Blocks {
		if b.Section == "" || seen[b.Section] {
			continue
		}
		seen[b.Section] = true
		labels = append(labels, b.Section)
	}
	return labels
}

// Render flattens the document to text, joining paragraphs with sep. Each
// change of section puts a heading line on top of the first paragraph, and
// every cited reference is rendered once after the first block that cites it.
// References nobody cites are rendered at the end.
func (d *Document) Render(sep string) string {
	var b strings.Builder
	write := func(p string) {
		if p == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p)
	}

	if d.Title != "" {
		write("# " + d.Title)
	}

	done := make(map[string]bool)
	prev := ""
	for i, blk := range d.Blocks {
		text := blk.Text
		if blk.Section != "" && (i == 0 || blk.Section != prev) {
			text = "## " + blk.Heading() + "\n" + text
		}
		prev = blk.Section
		write(text)
		for _, c := range blk.Cites {
			ref, ok := d.Refs[c.RefID]
			if !ok || done[c.RefID] {
				continue
			}
			done[c.RefID] = true
			write(ref.Render())
		}
	}

	var rest []Ref
	for id, ref := range d.Refs {
		if !done[id] {
			rest = append(rest, ref)
		}
	}
	if len(rest) > 0 {
		sortRefs(rest)
		for i, ref := range rest {
			if i == 0 {
				write("## Figures and Tables\n" + ref.Render())
				continue
			}
			write(ref.Render())
		}
	}
	return b.String()
}

// Heading returns the section label with its numbering, if any.
func (b Block) Heading() string {
	if b.SectionIndex == "" {
		return b.Section
	}
	return b.SectionIndex + " " + b.Section
}

// Render formats the reference as an inline bracketed note.
func (r Ref) Render() string {
	s := "[" + r.Label
	if r.Caption != "" {
		s += ": " + r.Caption
	}
	s += "]"
	if r.Text != "" {
		s += "\n" + r.Text
	}
	return s
}

// Len returns the total number of text bytes across blocks.
func (d *Document) Len() int {
	n := 0
	for _, b := range d.Blocks {
		n += len(b.Text)
	}
	return n
}
