package errclass

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riyogarta/synebot/internal/provider"
)

func TestClassifyAuthFailedError(t *testing.T) {
	err := &provider.AuthFailedError{Backend: "anthropic", Err: errors.New("invalid key")}
	assert.Equal(t, authMessage, Classify(nil, err))
}

func TestClassifyContextDeadlineExceeded(t *testing.T) {
	assert.Equal(t, timeoutMessage, Classify(nil, context.DeadlineExceeded))
}

func TestClassifySQLSentinels(t *testing.T) {
	assert.Equal(t, dbPoolMessage, Classify(nil, sql.ErrConnDone))
	assert.Equal(t, shapeMismatchMessage, Classify(nil, sql.ErrNoRows))
}

func TestClassifyByMessageHeuristics(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{errors.New("received HTTP 429 from provider"), rateLimitMessage},
		{errors.New("401 Unauthorized"), authMessage},
		{errors.New("model overloaded, 529"), providerOverloadMessage},
		{errors.New("400 bad request: invalid_request_error"), badRequestMessage},
		{errors.New("provider returned an empty response"), emptyResponseMessage},
		{errors.New("pq: too many connections for role"), dbPoolMessage},
		{errors.New("pq: syntax error near SELECT"), dbGenericMessage},
		{errors.New("dial tcp: connection refused"), connectMessage},
		{errors.New("request timeout after 30s"), timeoutMessage},
		{errors.New("index out of range [3] with length 2"), shapeMismatchMessage},
		{errors.New("not implemented for this backend"), notImplementedMessage},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(nil, tc.err), "Classify(%q)", tc.err)
	}
}

func TestClassifyFallbackIncludesTypeName(t *testing.T) {
	got := Classify(nil, customError{})
	want := fmt.Sprintf("Something went wrong (%s). Check logs for details.", "customError")
	assert.Equal(t, want, got)
}

func TestClassifyNilReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", Classify(nil, nil))
}

type customError struct{}

func (customError) Error() string { return "something truly unexpected" }
