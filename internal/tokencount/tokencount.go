// Package tokencount estimates how many model tokens a string will consume.
//
// Every count is inflated by a safety multiplier. Budget checks downstream
// must never let the completion service reject a prompt for being too long,
// so overcounting is the acceptable failure direction.
package tokencount

import (
	"log/slog"
	"math"
	"strings"
)

// DefaultMultiplier is applied to raw encoder output.
const DefaultMultiplier = 1.10

// DefaultEncoding is the BPE scheme used when none is configured.
const DefaultEncoding = "cl100k_base"

// Counter returns the estimated token count of text. Implementations are
// deterministic and return 0 for empty text.
type Counter interface {
	Count(text string) int
}

// Encoder is a Counter that can also round-trip tokens.
type Encoder interface {
	Counter
	Encode(text string) []int
	Decode(tokens []int) string
}

// New returns a BPE counter for the named encoding. When the encoding ranks
// cannot be loaded it logs a warning and falls back to the word heuristic.
func New(encoding string, multiplier float64, logger *slog.Logger) Counter {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := NewTiktoken(encoding, multiplier)
	if err != nil {
		logger.Warn("tiktoken unavailable, using heuristic token counter",
			"encoding", encoding, "error", err)
		return NewHeuristic(multiplier)
	}
	return enc
}

// inflate applies the safety multiplier, rounding up.
func inflate(raw int, multiplier float64) int {
	if raw <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return int(math.Ceil(float64(raw) * multiplier))
}

// Truncate shortens text so that c.Count(result) <= maxTokens. Encoders cut
// on token boundaries; other counters cut on word boundaries.
func Truncate(c Counter, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if c.Count(text) <= maxTokens {
		return text
	}
	if enc, ok := c.(Encoder); ok {
		tokens := enc.Encode(text)
		// Count is inflated, so start from the raw ratio and walk down.
		n := min(len(tokens), maxTokens)
		for n > 0 {
			out := enc.Decode(tokens[:n])
			if c.Count(out) <= maxTokens {
				return out
			}
			n--
		}
		return ""
	}

	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.Count(strings.Join(words[:mid], " ")) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo > 0 || len(words) == 0 {
		return strings.Join(words[:lo], " ")
	}
	// The first run alone is over budget, as with unspaced CJK text.
	runes := []rune(words[0])
	lo, hi = 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.Count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
