package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheRefreshesOnce(t *testing.T) {
	calls := 0
	cache := NewTokenCache(func(ctx context.Context) (Token, error) {
		calls++
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	for i := 0; i < 5; i++ {
		_, err := cache.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls, "expected a single refresh within the cache TTL")
}

func TestTokenCacheRefreshesWhenExpiringSoon(t *testing.T) {
	calls := 0
	cache := NewTokenCache(func(ctx context.Context) (Token, error) {
		calls++
		return Token{Value: "tok", ExpiresAt: time.Now().Add(2 * time.Minute)}, nil
	})

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	// Even on the very next call (well within the 30s TTL), a token
	// expiring within the 5-minute buffer must trigger a proactive refresh.
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expected a proactive refresh for a soon-to-expire token")
}

func TestTokenCacheServesStaleTokenWhenRefreshFails(t *testing.T) {
	good := true
	cache := NewTokenCache(func(ctx context.Context) (Token, error) {
		if good {
			good = false
			return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
		return Token{}, errors.New("refresh source unreachable")
	})

	_, err := cache.Get(context.Background())
	require.NoError(t, err, "priming cache")

	cache.cachedAt = time.Now().Add(-time.Hour) // force past the 30s TTL

	tok, err := cache.Get(context.Background())
	require.NoError(t, err, "expected stale token to be served despite refresh failure")
	assert.Equal(t, "tok", tok.Value, "expected stale cached token")
}

func TestTokenCachePropagatesErrorWithNoFallback(t *testing.T) {
	cache := NewTokenCache(func(ctx context.Context) (Token, error) {
		return Token{}, errors.New("boom")
	})

	_, err := cache.Get(context.Background())
	assert.Error(t, err, "expected error when no cached token exists to fall back to")
}
