package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// retryAttempts/retryBaseDelay implement the fixed retry policy shared by
// every backend adapter: three attempts, exponential backoff starting at
// one second (2^n seconds), capped so a single Chat call never blocks
// indefinitely behind a flaky upstream.
const (
	retryAttempts  = 3
	retryBaseDelay = time.Second
	retryMaxDelay  = 16 * time.Second
)

// WithAdapterRetry wraps a single backend call with the adapter-wide retry
// policy: three attempts, exponential backoff from one second. An
// AuthFailedError returned by call is never retried — a bad credential
// will not fix itself on attempt two — and propagates immediately so the
// engine can surface the one-time auth notice described in the Provider
// Port. backend names the adapter purely for use in the wrapped error
// message.
func WithAdapterRetry(ctx context.Context, backend string, call func() error) error {
	err := retry.Do(
		call,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		var authErr *AuthFailedError
		if errors.As(err, &authErr) {
			return err
		}
		return fmt.Errorf("%s: %w", backend, err)
	}
	return nil
}

// isRetryable decides whether a failed attempt is worth repeating.
// Authentication failures, and anything the caller explicitly cancelled,
// are never retried; transient network errors and server-side 5xx/429
// responses are.
func isRetryable(err error) bool {
	var authErr *AuthFailedError
	if errors.As(err, &authErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	// Unclassified errors (e.g. malformed-response decode failures) are
	// not retried — retrying a deterministic parse failure just burns the
	// attempt budget for no benefit.
	return false
}

// HTTPStatusError wraps a non-2xx HTTP response from a backend that
// communicates over plain net/http (Ollama, and any REST-style adapter),
// letting isRetryable make a retry/no-retry decision without adapters
// each reimplementing status-code classification.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "backend returned HTTP " + http.StatusText(e.StatusCode) + ": " + e.Body
}
