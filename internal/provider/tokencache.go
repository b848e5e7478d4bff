package provider

import (
	"context"
	"sync"
	"time"
)

// tokenCacheTTL bounds how long a refreshed credential is trusted without
// re-checking its source, independent of the credential's own expiry.
const tokenCacheTTL = 30 * time.Second

// tokenExpiryBuffer triggers a proactive refresh once a credential is
// within this window of its own expiry, so a request is never built
// against a token that expires mid-flight.
const tokenExpiryBuffer = 5 * time.Minute

// Token is a refreshable credential plus the time it expires at, as
// reported by its issuing source (STS, an OAuth token endpoint, etc).
type Token struct {
	Value     string
	ExpiresAt time.Time
}

func (t Token) expiringSoon(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(tokenExpiryBuffer).After(t.ExpiresAt)
}

// TokenRefresher fetches a fresh Token from its canonical source — an STS
// AssumeRole call, an OAuth token endpoint, a CLI credential helper.
type TokenRefresher func(ctx context.Context) (Token, error)

// TokenCache wraps a TokenRefresher with the 30-second read cache and
// 5-minute proactive-refresh buffer every adapter obligation requires, so
// adapters share one implementation instead of each hand-rolling it.
type TokenCache struct {
	refresh TokenRefresher

	mu        sync.Mutex
	cached    Token
	cachedAt  time.Time
	hasCached bool
}

// NewTokenCache returns a cache that calls refresh on first use and
// thereafter at most once per tokenCacheTTL, refreshing early whenever the
// held token is within tokenExpiryBuffer of its own expiry.
func NewTokenCache(refresh TokenRefresher) *TokenCache {
	return &TokenCache{refresh: refresh}
}

// Get returns a valid token, refreshing it if the cache is empty, stale,
// or the held token is about to expire.
func (c *TokenCache) Get(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.hasCached && now.Sub(c.cachedAt) < tokenCacheTTL && !c.cached.expiringSoon(now) {
		return c.cached, nil
	}

	tok, err := c.refresh(ctx)
	if err != nil {
		if c.hasCached && !c.cached.expiringSoon(now) {
			// Refresh failed but the held token is still good for a while
			// yet — prefer serving it over failing an in-flight request.
			return c.cached, nil
		}
		return Token{}, err
	}

	c.cached = tok
	c.cachedAt = now
	c.hasCached = true
	return tok, nil
}
