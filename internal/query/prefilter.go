package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dgallion1/docask/internal/llm"
)

// Quality trades answer completeness against cost. Zero disables the
// prefilter entirely.
type Quality int

const (
	QualityOff Quality = iota
	QualityFast
	QualityBalanced
	QualityDetailed
	QualityThorough
	QualityFull
)

// sectionsForQuality maps each level to how many sections survive the
// prefilter. Zero keeps everything.
var sectionsForQuality = map[Quality]int{
	QualityFast:     3,
	QualityBalanced: 5,
	QualityDetailed: 8,
	QualityThorough: 12,
	QualityFull:     0,
}

// KForQuality returns the section cap for q, or 0 when nothing is cut.
func KForQuality(q Quality) int {
	return sectionsForQuality[q]
}

// RankSections asks the model which of labels best answer question and
// returns at most k of them in document order. It never fails the request:
// when the model's reply is unusable, every label is returned.
func (e *Engine) RankSections(ctx context.Context, question string, labels []string, k int) ([]string, error) {
	if k <= 0 || len(labels) <= k {
		return labels, nil
	}

	req := llm.Request{
		System:      prefilterSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prefilterPrompt(question, labels, k)}},
		MaxTokens:   min(e.cfg.CompletionReserve, 50*k+50),
		Temperature: 0,
	}
	if err := e.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	res, err := e.CompleteStructured(ctx, "prefilter", req, 1, validateLabelArray)
	e.pool.Release(1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			e.log.Warn("prefilter reply unusable, keeping all sections", "error", err)
		} else {
			e.log.Warn("prefilter call failed, keeping all sections", "error", err)
		}
		return labels, nil
	}

	picked := selectLabels(res.Value, labels, k)
	if len(picked) == 0 {
		e.log.Warn("prefilter matched no known sections, keeping all")
		return labels, nil
	}
	return picked, nil
}

func validateLabelArray(v gjson.Result) error {
	if !v.IsArray() {
		return fmt.Errorf("expected a JSON array of section titles")
	}
	for _, item := range v.Array() {
		if item.Type != gjson.String {
			return fmt.Errorf("expected only strings in the array, got %s", item.Type)
		}
	}
	return nil
}

// selectLabels keeps the first k known labels the model named, matched
// case-insensitively, and returns them in document order.
func selectLabels(v gjson.Result, labels []string, k int) []string {
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[normalizeLabel(l)] = true
	}
	wanted := make(map[string]bool)
	for _, item := range v.Array() {
		n := normalizeLabel(item.String())
		if known[n] && !wanted[n] && len(wanted) < k {
			wanted[n] = true
		}
	}
	var picked []string
	for _, l := range labels {
		n := normalizeLabel(l)
		if wanted[n] {
			picked = append(picked, l)
			delete(wanted, n)
		}
	}
	return picked
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
