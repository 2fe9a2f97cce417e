package tokencount

import (
	"math"
	"strings"
)

const (
	// tokensPerWord approximates English text under GPT-family tokenizers.
	tokensPerWord = 1.33
	// longRunBytes is the longest run still priced as one word. Longer runs
	// (CJK text, URLs, base64, unspaced tables) are priced per byte.
	longRunBytes = 12
	// bytesPerToken errs low so long runs are overcounted, never under.
	bytesPerToken = 3
)

// Heuristic estimates tokens from whitespace-delimited runs. It needs no
// encoding tables, which makes it the fallback and the deterministic choice
// in tests.
type Heuristic struct {
	multiplier float64
}

// NewHeuristic returns a run-based estimator.
func NewHeuristic(multiplier float64) *Heuristic {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return &Heuristic{multiplier: multiplier}
}

// Count returns the inflated estimate. Non-empty text always costs at least 1.
func (h *Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	var est float64
	for _, run := range strings.Fields(text) {
		est += runTokens(run)
	}
	raw := int(math.Ceil(est - 0.001))
	if raw < 1 {
		raw = 1
	}
	return inflate(raw, h.multiplier)
}

// runTokens never decreases as a run grows, which keeps Count monotonic
// under concatenation.
func runTokens(run string) float64 {
	if len(run) <= longRunBytes {
		return tokensPerWord
	}
	return math.Ceil(float64(len(run)) / bytesPerToken)
}
