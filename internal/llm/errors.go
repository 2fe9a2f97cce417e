package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError is a failure worth retrying: rate limits, server errors,
// timeouts.
type TransientError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient error: %v", e.Err)
	}
	return fmt.Sprintf("transient error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure retrying cannot fix, such as a malformed request
// or a prompt over the service's hard limit.
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// HTTPStatus returns the upstream status code.
func (e *FatalError) HTTPStatus() int { return e.StatusCode }

// HTTPStatus returns the upstream status code.
func (e *TransientError) HTTPStatus() int { return e.StatusCode }

// classifyStatus maps a non-2xx status to a typed error.
func classifyStatus(status int, body string) error {
	if isTransientStatus(status) {
		return &TransientError{StatusCode: status, Message: body}
	}
	return &FatalError{StatusCode: status, Message: body}
}

func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= 500
}

// classifyTransport wraps errors from the HTTP round trip itself.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TransientError{Err: err}
	}
	return err
}

// IsTransient reports whether err is worth retrying. A deadline exceeded on
// the call's own context counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
