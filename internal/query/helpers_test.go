package query

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/testutil"
	"github.com/dgallion1/docask/internal/tokencount"
)

// words returns n space-separated words tagged with prefix and position.
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.CallTimeout = 5 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, fake *testutil.FakeCompleter) *Engine {
	t.Helper()
	e, err := New(cfg, fake, tokencount.NewHeuristic(tokencount.DefaultMultiplier),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// chunkContext pulls the paper context back out of a chunk prompt.
func chunkContext(req llm.Request) string {
	p := testutil.LastPrompt(req)
	start := strings.Index(p, "Start of paper context:\n")
	end := strings.Index(p, "\nEnd of paper context")
	if start < 0 || end < 0 {
		return ""
	}
	return p[start+len("Start of paper context:\n") : end]
}

func isMerge(req llm.Request) bool { return req.System == mergeSystemPrompt }

func isPrefilter(req llm.Request) bool { return req.System == prefilterSystemPrompt }
