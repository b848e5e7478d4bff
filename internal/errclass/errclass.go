// Package errclass maps the exception taxonomy a channel adapter can
// see — typed provider errors, network failures, database driver
// errors, and anything else — onto short, non-leaky messages suitable
// for sending straight to a user. Grounded on
// original_source/syne/communication/errors.py's classify_error, adapted
// from Python's isinstance chain to errors.As/errors.Is over Go's error
// wrapping plus a substring fallback for errors (HTTP client bodies,
// SDK errors) that don't expose a typed sentinel.
package errclass

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/provider"
)

const (
	rateLimitMessage      = "Rate limited. Please wait a moment and try again."
	authMessage           = "Authentication error. Owner may need to refresh credentials."
	badRequestMessage     = "The request was rejected. This may be a conversation format issue."
	emptyResponseMessage  = "The provider returned an empty response. Please try again."
	providerOverloadMessage = "The provider is overloaded. Please try again later."
	dbPoolMessage         = "Database connection pool exhausted. Please try again in a moment."
	dbGenericMessage      = "Database error. Please try again later."
	connectMessage        = "Cannot connect to the provider. Please check connectivity and try again."
	timeoutMessage        = "Request timed out. Please try again."
	shapeMismatchMessage  = "Unexpected response format from the provider. Please try again."
	notImplementedMessage = "This feature is not supported by the current provider."
)

// Classify turns err into a short user-facing message. On the fallback
// path (no recognized category) it logs the error with a captured stack
// trace via logger — never shown to the user — keyed by the error's
// concrete type so repeat occurrences correlate in the logs. logger may
// be nil, in which case the fallback path is silent.
func Classify(logger *zap.Logger, err error) string {
	if err == nil {
		return ""
	}

	var authErr *provider.AuthFailedError
	if errors.As(err, &authErr) {
		return authMessage
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutMessage
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return timeoutMessage
		}
		return connectMessage
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return dbPoolMessage
	}
	if errors.Is(err, sql.ErrNoRows) {
		return shapeMismatchMessage
	}

	if msg := classifyByMessage(err.Error()); msg != "" {
		return msg
	}

	if logger != nil {
		logger.Error("unclassified error",
			zap.String("type", fmt.Sprintf("%T", err)),
			zap.Error(pkgerrors.WithStack(err)),
		)
	}
	return fmt.Sprintf("Something went wrong (%s). Check logs for details.", typeName(err))
}

func classifyByMessage(raw string) string {
	msg := strings.ToLower(raw)

	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate-limit"):
		return rateLimitMessage
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "auth"):
		return authMessage
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "529"):
		return providerOverloadMessage
	case strings.Contains(msg, "400") || strings.Contains(msg, "bad request") || strings.Contains(msg, "invalid_request"):
		return badRequestMessage
	case strings.Contains(msg, "empty response") || strings.Contains(msg, "empty completion"):
		return emptyResponseMessage
	case strings.Contains(msg, "too many connections") || strings.Contains(msg, "pool exhausted") || strings.Contains(msg, "pool timeout"):
		return dbPoolMessage
	case strings.Contains(msg, "sqlstate") || strings.Contains(msg, "pq:") || strings.Contains(msg, "sqlite3:") || strings.Contains(msg, "database"):
		return dbGenericMessage
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "dial tcp") || strings.Contains(msg, "connect:"):
		return connectMessage
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context canceled"):
		return timeoutMessage
	case strings.Contains(msg, "index out of range") || strings.Contains(msg, "unexpected response") || strings.Contains(msg, "missing key") || strings.Contains(msg, "unexpected shape"):
		return shapeMismatchMessage
	case strings.Contains(msg, "not implemented") || strings.Contains(msg, "not supported"):
		return notImplementedMessage
	default:
		return ""
	}
}

func typeName(err error) string {
	t := fmt.Sprintf("%T", err)
	if i := strings.LastIndex(t, "."); i >= 0 {
		return t[i+1:]
	}
	return t
}
