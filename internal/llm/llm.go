// Package llm talks to completion services. Clients hide the wire protocol
// behind Completer and sort failures into TransientError and FatalError so
// callers can decide what to retry.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/dnscache"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response is the completed text plus usage as reported by the service.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Completer is a completion service.
//
// Stream sends text fragments to out as they arrive and returns once the
// service ends the response. It never closes out.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request, out chan<- string) (*Response, error)
}

// Client is a Completer that also reports its model and call statistics.
type Client interface {
	Completer
	Model() string
	Stats() *LLMStats
	Close()
}

// Settings selects and configures a provider.
type Settings struct {
	Provider string // "anthropic" or "openai"
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	Resolver *dnscache.Resolver // Optional DNS cache for outbound calls
}

// New builds the client named by s.Provider.
func New(s Settings) (Client, error) {
	httpClient := NewHTTPClient(s.Timeout, s.Resolver)

	switch strings.ToLower(s.Provider) {
	case "", "anthropic":
		opts := []Option{WithHTTPClient(httpClient)}
		if s.BaseURL != "" {
			opts = append(opts, WithBaseURL(s.BaseURL))
		}
		return NewAnthropicClient(s.APIKey, s.Model, opts...), nil
	case "openai":
		return NewOpenAIClient(s.APIKey, s.Model, s.BaseURL, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}

func send(ctx context.Context, out chan<- string, frag string) error {
	select {
	case out <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
