package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Outcome classifies a finished completion call.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTransient Outcome = "transient"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCanceled  Outcome = "canceled"
)

// OutcomeOf classifies err.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsTransient(err):
		return OutcomeTransient
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeFatal
	}
}

type sample struct {
	timestamp    time.Time
	durationMs   int64
	outcome      Outcome
	inputTokens  int
	outputTokens int
}

// StatsSnapshot aggregates the calls inside the rolling window.
type StatsSnapshot struct {
	Count        int     `json:"count"`
	Transient    int     `json:"transient_errors"`
	Fatal        int     `json:"fatal_errors"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	MinMs        int64   `json:"min_ms"`
	MaxMs        int64   `json:"max_ms"`
	AvgMs        float64 `json:"avg_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
}

// LLMStats tracks recent completion calls within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record adds one call. resp may be nil for failed calls.
func (s *LLMStats) Record(d time.Duration, resp *Response, err error) {
	durationMs := d.Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}
	sm := sample{timestamp: time.Now(), durationMs: durationMs, outcome: OutcomeOf(err)}
	if resp != nil {
		sm.inputTokens = resp.InputTokens
		sm.outputTokens = resp.OutputTokens
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(sm.timestamp)
	s.samples = append(s.samples, sm)
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if len(s.samples) == 0 {
		return StatsSnapshot{}
	}

	snap := StatsSnapshot{Count: len(s.samples)}
	values := make([]int64, 0, len(s.samples))
	var sum int64
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		snap.InputTokens += sm.inputTokens
		snap.OutputTokens += sm.outputTokens
		switch sm.outcome {
		case OutcomeTransient:
			snap.Transient++
		case OutcomeFatal:
			snap.Fatal++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P50Ms = percentile(values, 50)
	snap.P95Ms = percentile(values, 95)
	snap.P99Ms = percentile(values, 99)
	return snap
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
