package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned for calls made on, or still waiting in, a closed Client.
var ErrClosed = errors.New("hostfetch: client closed")

// ErrBodyTooLarge means a response body exceeded the client's limit. It is
// wrapped in a NetworkError and never retried.
var ErrBodyTooLarge = errors.New("hostfetch: response body too large")

// NetworkError is a transport-level failure or an aborted attempt.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Network error: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means the soft timeout cancelled an attempt.
type TimeoutError struct {
	URL   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Network error: %s: timed out after %s", e.URL, e.After)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

func (e *TimeoutError) Timeout() bool { return true }

// HTTPStatusError is a non-OK response other than 429. Body holds at most the
// first 180 characters of the response body.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// DecodeError means an OK body could not be parsed as requested.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// deferral is the executor's internal 429 signal; it never leaves the package.
type deferral struct {
	wait time.Duration
}

func (d *deferral) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", d.wait)
}

// IsRetryable reports whether the orchestrator would retry err with budget
// remaining.
func IsRetryable(err error) bool {
	var herr *HTTPStatusError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrBodyTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	var (
		nerr *NetworkError
		terr *TimeoutError
		derr *DecodeError
	)
	return errors.As(err, &nerr) || errors.As(err, &terr) || errors.As(err, &derr)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var herr *HTTPStatusError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// outcome names err for metrics and spans.
func outcome(err error) string {
	var (
		herr *HTTPStatusError
		terr *TimeoutError
		nerr *NetworkError
		derr *DecodeError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &herr):
		return "http_error"
	case errors.As(err, &terr):
		return "timeout"
	case errors.As(err, &derr):
		return "decode_error"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.As(err, &nerr):
		return "network_error"
	default:
		return "network_error"
	}
}
