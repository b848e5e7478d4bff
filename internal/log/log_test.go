package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riyogarta/synebot/internal/config"
)

func TestNewBuildsJSONLoggerForJSONFormat(t *testing.T) {
	l, err := New(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	l, err := New(config.LoggingConfig{Level: "not-a-level", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestSetLoggerReplacesGlobal(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	replacement, err := New(config.LoggingConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	SetLogger(replacement)
	assert.Same(t, replacement, Logger())
}
