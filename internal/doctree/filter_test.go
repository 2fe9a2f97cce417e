package doctree

import "testing"

func filterDoc() *Document {
	return &Document{
		Title: "Paper",
		Blocks: []Block{
			{Section: "Abstract", Text: "a"},
			{Section: "Introduction", Text: "b"},
			{Section: "Related Work", Text: "c"},
			{Section: "Results", Text: "d"},
			{Section: "References", Text: "e"},
		},
	}
}

func texts(d *Document) string {
	s := ""
	for _, b := range d.Blocks {
		s += b.Text
	}
	return s
}

func TestFilter_Apply(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"include substring", Filter{Mode: Include, Sections: []string{"intro"}}, "b"},
		{"include many", Filter{Mode: Include, Sections: []string{"abstract", "RESULTS"}}, "ad"},
		{"exclude", Filter{Mode: Exclude, Sections: []string{"re"}}, "ab"},
		{"exclude references", Filter{Mode: Exclude, Sections: []string{"references"}}, "abcd"},
		{"empty filter keeps all", Filter{}, "abcde"},
		{"blank patterns keep all", Filter{Mode: Include, Sections: []string{"  "}}, "abcde"},
		{"too harsh include", Filter{Mode: Include, Sections: []string{"appendix"}}, "abcde"},
		{"too harsh exclude", Filter{Mode: Exclude, Sections: []string{"a", "e", "i", "o", "u"}}, "abcde"},
		{"bad mode ignored", Filter{Mode: "drop", Sections: []string{"intro"}}, "abcde"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := filterDoc()
			got := tc.filter.Apply(doc)
			if texts(got) != tc.want {
				t.Errorf("blocks = %q, want %q", texts(got), tc.want)
			}
			if texts(doc) != "abcde" {
				t.Errorf("input document was modified: %q", texts(doc))
			}
		})
	}
}

func TestFilter_TooHarshReturnsOriginal(t *testing.T) {
	doc := filterDoc()
	got := Filter{Mode: Include, Sections: []string{"nothing matches"}}.Apply(doc)
	if got != doc {
		t.Error("expected the original document pointer back")
	}
}

func TestFilter_Validate(t *testing.T) {
	if err := (Filter{}).Validate(); err != nil {
		t.Errorf("empty filter should be valid: %v", err)
	}
	if err := (Filter{Sections: []string{"x"}}).Validate(); err == nil {
		t.Error("expected error for sections without mode")
	}
	if err := (Filter{Mode: "sideways"}).Validate(); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestSelectSections(t *testing.T) {
	doc := filterDoc()
	got := doc.SelectSections([]string{"Results", "Abstract"})
	if texts(got) != "ad" {
		t.Errorf("blocks = %q, want %q", texts(got), "ad")
	}
	if got := doc.SelectSections([]string{"Appendix"}); got != doc {
		t.Error("expected original document when nothing matches")
	}
}
