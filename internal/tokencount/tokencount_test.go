package tokencount

import (
	"os"
	"strings"
	"testing"
)

func TestHeuristic_EmptyIsZero(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	if got := h.Count(""); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestHeuristic_NonEmptyAtLeastOne(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	for _, s := range []string{" ", "\n", "a", "hello world"} {
		if got := h.Count(s); got < 1 {
			t.Errorf("Count(%q) = %d, want >= 1", s, got)
		}
	}
}

func TestHeuristic_AppliesMultiplier(t *testing.T) {
	text := strings.Repeat("word ", 100)
	plain := NewHeuristic(1.0).Count(text)
	inflated := NewHeuristic(1.10).Count(text)
	if plain != 133 {
		t.Fatalf("expected 133 raw tokens for 100 words, got %d", plain)
	}
	if inflated != 147 {
		t.Errorf("expected 147 inflated tokens, got %d", inflated)
	}
}

func TestHeuristic_Deterministic(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	text := "The quick brown fox jumps over the lazy dog."
	first := h.Count(text)
	for range 10 {
		if got := h.Count(text); got != first {
			t.Fatalf("count changed between calls: %d vs %d", first, got)
		}
	}
}

func TestHeuristic_MonotonicUnderConcatenation(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	cases := []struct{ a, b string }{
		{"", ""},
		{"alpha", ""},
		{"", "beta"},
		{"alpha", "beta"},
		{"alpha ", " beta"},
		{"one two three", "four"},
		{" ", "x"},
		{strings.Repeat("lorem ", 50), strings.Repeat("ipsum ", 7)},
	}
	for _, tc := range cases {
		ab := h.Count(tc.a + tc.b)
		if ab < h.Count(tc.a) || ab < h.Count(tc.b) {
			t.Errorf("Count(%q+%q) = %d, below parts %d/%d", tc.a, tc.b, ab, h.Count(tc.a), h.Count(tc.b))
		}
	}
}

func TestHeuristic_UnspacedTextIsNotUndercounted(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	tests := []struct {
		name string
		text string
		min  int
	}{
		{"cjk", strings.Repeat("自然语言处理模型", 500), 1000},
		{"url", "https://example.com/search?q=" + strings.Repeat("abcdefghij", 359), 1000},
		{"base64", strings.Repeat("QUJDREVGR0hJSktMTU5PUA==", 100), 600},
		{"unspaced table", strings.Repeat("|col1|col2|col3|", 200), 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Count(tt.text); got < tt.min {
				t.Errorf("Count = %d for %d bytes, want >= %d", got, len(tt.text), tt.min)
			}
		})
	}
}

func TestHeuristic_ShortWordsKeepWordRate(t *testing.T) {
	h := NewHeuristic(1.0)
	if got := h.Count("the quick brown fox"); got != 6 {
		t.Errorf("Count = %d, want 6", got)
	}
	// A 13-byte run is priced per byte.
	if got := h.Count("abcdefghijklm"); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
}

func TestTruncate_HeuristicUnspacedRun(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	text := strings.Repeat("自然语言处理模型", 100)
	out := Truncate(h, text, 50)
	if out == "" {
		t.Fatal("expected a non-empty prefix")
	}
	if h.Count(out) > 50 || !strings.HasPrefix(text, out) {
		t.Errorf("Truncate = %q (%d tokens)", out, h.Count(out))
	}
}

func TestHeuristic_WordsAreSubadditive(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	words := strings.Fields(strings.Repeat("some paper text goes here ", 40))
	sum := 0
	for _, w := range words {
		sum += h.Count(w + " ")
	}
	whole := h.Count(strings.Join(words, " ") + " ")
	if sum < whole {
		t.Errorf("sum of word counts %d is below whole count %d", sum, whole)
	}
}

func TestTruncate_HeuristicWordBoundary(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	text := strings.Repeat("token ", 200)
	out := Truncate(h, text, 50)
	if h.Count(out) > 50 {
		t.Fatalf("truncated text costs %d tokens, want <= 50", h.Count(out))
	}
	if out == "" {
		t.Fatal("expected non-empty truncation")
	}
	if !strings.HasPrefix(text, out) {
		t.Errorf("truncation is not a prefix of the input: %q", out)
	}
}

func TestTruncate_ShortTextUnchanged(t *testing.T) {
	h := NewHeuristic(DefaultMultiplier)
	if got := Truncate(h, "short text", 100); got != "short text" {
		t.Errorf("expected unchanged text, got %q", got)
	}
	if got := Truncate(h, "anything", 0); got != "" {
		t.Errorf("expected empty output for zero budget, got %q", got)
	}
}

func TestNew_FallsBackOnUnknownEncoding(t *testing.T) {
	c := New("no_such_encoding", DefaultMultiplier, nil)
	if _, ok := c.(*Heuristic); !ok {
		t.Fatalf("expected heuristic fallback, got %T", c)
	}
}

// BPE ranks are downloaded on first use, so this only runs when a cache
// directory has been provisioned.
func TestTiktoken_RoundTrip(t *testing.T) {
	if os.Getenv("TIKTOKEN_CACHE_DIR") == "" {
		t.Skip("TIKTOKEN_CACHE_DIR not set")
	}
	enc, err := NewTiktoken(DefaultEncoding, DefaultMultiplier)
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	text := "Transformers process sequences in parallel."
	tokens := enc.Encode(text)
	if got := enc.Decode(tokens); got != text {
		t.Fatalf("round trip = %q, want %q", got, text)
	}
	if got := enc.Count(text); got < len(tokens) {
		t.Errorf("inflated count %d below raw %d", got, len(tokens))
	}
	if enc.Count("") != 0 {
		t.Error("expected 0 for empty text")
	}

	out := Truncate(enc, strings.Repeat(text+" ", 100), 40)
	if enc.Count(out) > 40 {
		t.Errorf("truncated text costs %d tokens, want <= 40", enc.Count(out))
	}
}

func TestTiktoken_SpecialTextIsOrdinary(t *testing.T) {
	if os.Getenv("TIKTOKEN_CACHE_DIR") == "" {
		t.Skip("TIKTOKEN_CACHE_DIR not set")
	}
	enc, err := NewTiktoken(DefaultEncoding, 1.0)
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	text := "before <|endoftext|> after"
	tokens := enc.Encode(text)
	if got := enc.Decode(tokens); got != text {
		t.Fatalf("round trip = %q, want %q", got, text)
	}
	plain := enc.Encode("before  after")
	if len(tokens)-len(plain) < 2 {
		t.Errorf("special text cost %d extra tokens, want it counted as several ordinary ones", len(tokens)-len(plain))
	}
}
