package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newAnthropicTest(t *testing.T, h http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAnthropicClient("test-key", "test-model", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	c := newAnthropicTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"Hello "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":3}}`)
	})

	resp, err := c.Complete(context.Background(), Request{
		System:    "be brief",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Hello there" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if got.MaxTokens != 50 || got.System != "be brief" || got.Model != "test-model" || got.Stream {
		t.Errorf("unexpected request body: %+v", got)
	}
	if c.Stats().Snapshot().Count != 1 {
		t.Error("expected call recorded in stats")
	}
}

func TestAnthropicComplete_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newAnthropicTest(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tc.status)
			})
			_, err := c.Complete(context.Background(), Request{MaxTokens: 10})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tc.transient {
				t.Errorf("IsTransient = %v, want %v (err=%v)", IsTransient(err), tc.transient, err)
			}
			if !tc.transient {
				var fe *FatalError
				if !errors.As(err, &fe) || fe.StatusCode != tc.status {
					t.Errorf("expected FatalError with status %d, got %v", tc.status, err)
				}
			}
		})
	}
}

func TestAnthropicStream(t *testing.T) {
	c := newAnthropicTest(t, func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream flag")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"usage":{"input_tokens":40}}}`,
			``,
			`: keep-alive`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"The "}}`,
			``,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"answer"}}`,
			``,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			``,
			`data: {"type":"message_stop"}`,
			``,
		}
		fmt.Fprint(w, strings.Join(events, "\n"))
	})

	out := make(chan string, 10)
	resp, err := c.Stream(context.Background(), Request{MaxTokens: 10}, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)
	var frags []string
	for f := range out {
		frags = append(frags, f)
	}
	if strings.Join(frags, "|") != "The |answer" {
		t.Errorf("fragments = %q", frags)
	}
	if resp.Text != "The answer" || resp.InputTokens != 40 || resp.OutputTokens != 2 || resp.StopReason != "end_turn" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAnthropicStream_ErrorEvent(t *testing.T) {
	c := newAnthropicTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})
	_, err := c.Stream(context.Background(), Request{MaxTokens: 10}, make(chan string, 1))
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestAnthropicStream_TruncatedIsTransient(t *testing.T) {
	c := newAnthropicTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"partial\"}}\n\n")
	})
	_, err := c.Stream(context.Background(), Request{MaxTokens: 10}, make(chan string, 1))
	if !IsTransient(err) {
		t.Fatalf("expected transient error for truncated stream, got %v", err)
	}
}

func TestStripCodeBlock(t *testing.T) {
	tests := map[string]string{
		"```json\n[\"a\"]\n```": `["a"]`,
		"```\n{}\n```":          `{}`,
		"  [1,2] ":              `[1,2]`,
	}
	for in, want := range tests {
		if got := StripCodeBlock(in); got != want {
			t.Errorf("StripCodeBlock(%q) = %q, want %q", in, got, want)
		}
	}
}
