package query

import (
	"fmt"
	"time"
)

// Config holds every tunable of the engine. It is passed in explicitly so
// the budget loop can be exercised with arbitrary windows.
type Config struct {
	ModelWindow          int // Prompt plus completion tokens per call
	MaxOutputTokens      int // Service cap on completion tokens; 0 for none
	CompletionReserve    int // Completion tokens reserved per chunk call
	MinCompletionReserve int
	ReserveStep          int
	MaxChunkTokens       int // Upper bound on the per-chunk budget; 0 for none
	MinChunkBudget       int
	ChunkStep            int
	MaxFitIterations     int
	MaxChunks            int
	MergeFloor           int

	MaxAttempts        int // Total tries per call, first one included
	RetryBackoff       time.Duration
	CallTimeout        time.Duration
	PoolSize           int // Concurrent completion calls across all questions
	StructuredAttempts int // Default JSON repair budget; the prefilter always makes one attempt

	StreamGroupSize int
	StreamBuffer    int

	Separator        string
	LoadTestPhrase   string
	LoadTestResponse string
	PrefilterEnabled bool
	MaxHistoryTokens int
	MaxQuoteTokens   int
	Temperature      float32
}

// DefaultConfig returns settings sized for a 4k-token model.
func DefaultConfig() Config {
	return Config{
		ModelWindow:          4000,
		MaxOutputTokens:      4096,
		CompletionReserve:    500,
		MinCompletionReserve: 200,
		ReserveStep:          100,
		MinChunkBudget:       256,
		ChunkStep:            250,
		MaxFitIterations:     20,
		MaxChunks:            7,
		MergeFloor:           1000,

		MaxAttempts:        3,
		RetryBackoff:       time.Second,
		CallTimeout:        90 * time.Second,
		PoolSize:           16,
		StructuredAttempts: 3,

		StreamGroupSize: 5,
		StreamBuffer:    64,

		Separator:        "\n\n",
		LoadTestPhrase:   "this is a load test",
		LoadTestResponse: "This is a load test response",
		MaxHistoryTokens: 1000,
		MaxQuoteTokens:   500,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.ModelWindow <= 0:
		return fmt.Errorf("model window must be positive")
	case c.CompletionReserve <= 0 || c.MinCompletionReserve <= 0:
		return fmt.Errorf("completion reserve must be positive")
	case c.MinCompletionReserve > c.CompletionReserve:
		return fmt.Errorf("minimum completion reserve %d exceeds reserve %d", c.MinCompletionReserve, c.CompletionReserve)
	case c.MaxOutputTokens > 0 && c.CompletionReserve > c.MaxOutputTokens:
		return fmt.Errorf("completion reserve %d exceeds max output tokens %d", c.CompletionReserve, c.MaxOutputTokens)
	case c.ReserveStep <= 0 || c.ChunkStep <= 0:
		return fmt.Errorf("shrink steps must be positive")
	case c.MinChunkBudget <= 0:
		return fmt.Errorf("minimum chunk budget must be positive")
	case c.MaxFitIterations <= 0:
		return fmt.Errorf("max fit iterations must be positive")
	case c.MaxChunks <= 0:
		return fmt.Errorf("max chunks must be positive")
	case c.MaxAttempts <= 0:
		return fmt.Errorf("max attempts must be positive")
	case c.PoolSize <= 0:
		return fmt.Errorf("pool size must be positive")
	case c.StreamGroupSize <= 0:
		return fmt.Errorf("stream group size must be positive")
	case c.Separator == "":
		return fmt.Errorf("separator is required")
	}
	return nil
}
