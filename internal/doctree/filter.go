package doctree

import (
	"fmt"
	"strings"
)

// FilterMode selects whether matching sections are kept or removed.
type FilterMode string

const (
	Include FilterMode = "include"
	Exclude FilterMode = "exclude"
)

// Filter selects blocks by case-insensitive substring match on Block.Section.
type Filter struct {
	Mode     FilterMode `json:"mode"`
	Sections []string   `json:"sections"`
}

// IsZero reports whether the filter would select everything.
func (f Filter) IsZero() bool {
	for _, s := range f.Sections {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// Validate checks the mode.
func (f Filter) Validate() error {
	switch f.Mode {
	case Include, Exclude:
		return nil
	case "":
		if f.IsZero() {
			return nil
		}
		return fmt.Errorf("filter mode is required when sections are given")
	default:
		return fmt.Errorf("unknown filter mode %q", f.Mode)
	}
}

// Apply returns a filtered copy of doc; doc itself is never modified. When
// the filter would leave no blocks, or is empty or invalid, doc is returned
// as is.
func (f Filter) Apply(doc *Document) *Document {
	if doc == nil || f.IsZero() || f.Validate() != nil {
		return doc
	}

	var patterns []string
	for _, s := range f.Sections {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			patterns = append(patterns, s)
		}
	}

	var kept []Block
	for _, b := range doc.Blocks {
		if f.matches(b.Section, patterns) == (f.Mode == Include) {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		// Too harsh: answering against nothing is worse than ignoring the filter.
		return doc
	}

	out := *doc
	out.Blocks = kept
	return &out
}

func (f Filter) matches(section string, patterns []string) bool {
	section = strings.ToLower(section)
	for _, p := range patterns {
		if strings.Contains(section, p) {
			return true
		}
	}
	return false
}

// SelectSections returns a copy of doc holding only blocks whose label is one
// of labels exactly. Like Apply, it returns doc when nothing would be left.
func (d *Document) SelectSections(labels []string) *Document {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var kept []Block
	for _, b := range d.Blocks {
		if want[b.Section] {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return d
	}
	out := *d
	out.Blocks = kept
	return &out
}
