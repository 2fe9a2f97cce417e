package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/testutil"
)

var labels = []string{"Introduction", "Methods", "Results", "Discussion", "Conclusion"}

func replying(text string) *testutil.FakeCompleter {
	return &testutil.FakeCompleter{
		CompleteFunc: func(_ context.Context, req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: text}, nil
		},
	}
}

func TestKForQuality(t *testing.T) {
	tests := []struct {
		q    Quality
		want int
	}{
		{QualityOff, 0},
		{QualityFast, 3},
		{QualityBalanced, 5},
		{QualityDetailed, 8},
		{QualityThorough, 12},
		{QualityFull, 0},
		{Quality(9), 0},
	}
	for _, tt := range tests {
		if got := KForQuality(tt.q); got != tt.want {
			t.Errorf("KForQuality(%d) = %d, want %d", tt.q, got, tt.want)
		}
	}
}

func TestRankSections_FewLabelsMakesNoCall(t *testing.T) {
	fake := &testutil.FakeCompleter{}
	e := newTestEngine(t, testConfig(), fake)

	got, err := e.RankSections(context.Background(), "q?", labels[:2], 3)
	if err != nil {
		t.Fatalf("RankSections: %v", err)
	}
	if fmt.Sprint(got) != fmt.Sprint(labels[:2]) {
		t.Errorf("got %v", got)
	}
	if fake.CallCount() != 0 {
		t.Errorf("calls = %d, want 0", fake.CallCount())
	}
}

func TestRankSections(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		k     int
		want  []string
		calls int
	}{
		{"document order", `["Results", "Introduction"]`, 3, []string{"Introduction", "Results"}, 1},
		{"code fence", "```json\n[\"Methods\"]\n```", 3, []string{"Methods"}, 1},
		{"prose around json", `Sure: ["discussion"] hope that helps`, 3, []string{"Discussion"}, 1},
		{"capped at k", `["Conclusion", "Methods", "Results"]`, 2, []string{"Methods", "Conclusion"}, 1},
		{"unknown labels keep all", `["Appendix"]`, 3, labels, 1},
		{"malformed keeps all", `Methods and Results`, 3, labels, 1},
		{"wrong shape keeps all", `{"sections": ["Methods"]}`, 3, labels, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := replying(tt.reply)
			e := newTestEngine(t, testConfig(), fake)

			got, err := e.RankSections(context.Background(), "q?", labels, tt.k)
			if err != nil {
				t.Fatalf("RankSections: %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if fake.CallCount() != tt.calls {
				t.Errorf("calls = %d, want %d", fake.CallCount(), tt.calls)
			}
		})
	}
}

func TestRankSections_CallFailureKeepsAll(t *testing.T) {
	fake := &testutil.FakeCompleter{
		CompleteFunc: func(_ context.Context, req llm.Request) (*llm.Response, error) {
			return nil, &llm.FatalError{StatusCode: 401, Message: "bad key"}
		},
	}
	e := newTestEngine(t, testConfig(), fake)

	got, err := e.RankSections(context.Background(), "q?", labels, 3)
	if err != nil {
		t.Fatalf("RankSections: %v", err)
	}
	if len(got) != len(labels) {
		t.Errorf("got %v, want all labels", got)
	}
}
