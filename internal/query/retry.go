package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docask/internal/llm"
)

// ErrRetriesExhausted wraps the last transient failure once a call has used
// all of its attempts. It is not itself transient.
var ErrRetriesExhausted = errors.New("completion retries exhausted")

const maxBackoff = 30 * time.Second

// backoff returns the wait before retry n (0-indexed): base doubled per
// retry, capped, plus up to 50% jitter.
func backoff(n int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(n)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}

// call runs one completion with a per-attempt deadline, retrying transient
// failures up to cfg.MaxAttempts total tries. stage labels metrics and logs.
func (e *Engine) call(ctx context.Context, stage string, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := range e.cfg.MaxAttempts {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt-1, e.cfg.RetryBackoff)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := e.attempt(ctx, stage, func(ctx context.Context) (*llm.Response, error) {
			return e.llm.Complete(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !llm.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		e.log.Warn("transient completion error", "stage", stage, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, e.cfg.MaxAttempts, lastErr)
}

// callStream is call for streamed completions. A failed attempt is retried
// only while nothing has reached out yet; after that the caller has seen
// partial text and a retry would duplicate it.
func (e *Engine) callStream(ctx context.Context, stage string, req llm.Request, out chan<- string) (*llm.Response, error) {
	var lastErr error
	for attempt := range e.cfg.MaxAttempts {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt-1, e.cfg.RetryBackoff)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		frags := make(chan string, e.cfg.StreamBuffer)
		relayed := make(chan int, 1)
		go func() {
			n := 0
			defer func() { relayed <- n }()
			for f := range frags {
				select {
				case out <- f:
					n++
				case <-ctx.Done():
					// Drain so the producer never blocks.
					for range frags {
					}
					return
				}
			}
		}()

		resp, err := e.attempt(ctx, stage, func(ctx context.Context) (*llm.Response, error) {
			return e.llm.Stream(ctx, req, frags)
		})
		close(frags)
		sent := <-relayed

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !llm.IsTransient(err) || sent > 0 {
			return nil, err
		}
		lastErr = err
		e.log.Warn("transient stream error", "stage", stage, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, e.cfg.MaxAttempts, lastErr)
}

// attempt runs fn under the per-call deadline and records the outcome.
func (e *Engine) attempt(ctx context.Context, stage string, fn func(context.Context) (*llm.Response, error)) (*llm.Response, error) {
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := fn(ctx)
	e.metrics.ObserveCall(stage, string(llm.OutcomeOf(err)), time.Since(start))
	return resp, err
}
