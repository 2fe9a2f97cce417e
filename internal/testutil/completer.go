// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/dgallion1/docask/internal/llm"
)

// FakeCompleter is an llm.Completer driven by function fields. Every request
// is recorded. With CompleteFunc unset it echoes "ok". With StreamFunc unset,
// Stream calls Complete and sends the text word by word.
type FakeCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)
	StreamFunc   func(ctx context.Context, req llm.Request, out chan<- string) (*llm.Response, error)

	mu    sync.Mutex
	calls []llm.Request
}

func (f *FakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.record(req)
	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, req)
	}
	return &llm.Response{Text: "ok"}, nil
}

func (f *FakeCompleter) Stream(ctx context.Context, req llm.Request, out chan<- string) (*llm.Response, error) {
	if f.StreamFunc != nil {
		f.record(req)
		return f.StreamFunc(ctx, req, out)
	}
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, w := range strings.SplitAfter(resp.Text, " ") {
		if w == "" {
			continue
		}
		select {
		case out <- w:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, nil
}

func (f *FakeCompleter) record(req llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
}

// Calls returns a copy of the recorded requests.
func (f *FakeCompleter) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// CallCount returns how many requests were made.
func (f *FakeCompleter) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// LastPrompt returns the final message of req.
func LastPrompt(req llm.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}
