// Package ratelimit implements the sliding-window per-user rate limiter:
// at most max_requests in window_seconds, with the owner tier exempt by
// default. Grounded on original_source/syne/ratelimit.py's RateLimiter —
// the same sliding-window-of-timestamps algorithm and the same default
// numbers, translated from a dict-of-lists under no lock (Python's GIL
// covers it implicitly) to a mutex-guarded map.
package ratelimit

import (
	"sync"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
)

const (
	// DefaultMaxRequests is the default per-window request ceiling.
	DefaultMaxRequests = 4
	// DefaultWindowSeconds is the default sliding window width.
	DefaultWindowSeconds = 60
)

// Limiter is a sliding-window rate limiter keyed by user ID.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	ownerExempt bool
	requests    map[int64][]time.Time
	now         func() time.Time
}

// New builds a Limiter. maxRequests/windowSeconds <= 0 select the package
// defaults.
func New(maxRequests, windowSeconds int, ownerExempt bool) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      time.Duration(windowSeconds) * time.Second,
		ownerExempt: ownerExempt,
		requests:    make(map[int64][]time.Time),
		now:         time.Now,
	}
}

// Check reports whether userID may proceed. When not allowed, waitSeconds
// is the time until the oldest request in the window expires.
func (l *Limiter) Check(userID int64, level agent.AccessLevel) (allowed bool, waitSeconds int) {
	if l.ownerExempt && level == agent.AccessOwner {
		return true, 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := prune(l.requests[userID], now, l.window)

	if len(timestamps) >= l.maxRequests {
		l.requests[userID] = timestamps
		remaining := int(l.window.Seconds() - now.Sub(timestamps[0]).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		return false, remaining
	}

	l.requests[userID] = append(timestamps, now)
	return true, 0
}

// UpdateLimits reconfigures the limiter, e.g. after the update_config
// tool mutates ratelimit.* at runtime. Values <= 0 leave the
// corresponding setting unchanged; windowSeconds and maxRequests are each
// floored at 1.
func (l *Limiter) UpdateLimits(maxRequests, windowSeconds int, ownerExempt *bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if maxRequests > 0 {
		l.maxRequests = maxRequests
	}
	if windowSeconds > 0 {
		l.window = time.Duration(windowSeconds) * time.Second
	}
	if ownerExempt != nil {
		l.ownerExempt = *ownerExempt
	}
}

// ResetUser clears userID's recorded request history.
func (l *Limiter) ResetUser(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, userID)
}

// ResetAll clears every user's recorded request history.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = make(map[int64][]time.Time)
}

// Status reports a user's current standing against the window.
type Status struct {
	RequestsMade      int
	RequestsRemaining int
	MaxRequests       int
	WindowSeconds     int
	ResetInSeconds    int
}

// Status returns userID's current rate-limit standing without recording a
// new request.
func (l *Limiter) Status(userID int64) Status {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := prune(l.requests[userID], now, l.window)
	l.requests[userID] = timestamps

	remaining := l.maxRequests - len(timestamps)
	if remaining < 0 {
		remaining = 0
	}

	resetIn := 0
	if len(timestamps) > 0 {
		resetIn = int(l.window.Seconds() - now.Sub(timestamps[0]).Seconds())
		if resetIn < 0 {
			resetIn = 0
		}
	}

	return Status{
		RequestsMade:      len(timestamps),
		RequestsRemaining: remaining,
		MaxRequests:       l.maxRequests,
		WindowSeconds:     int(l.window.Seconds()),
		ResetInSeconds:    resetIn,
	}
}

func prune(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := timestamps[:0]
	for _, t := range timestamps {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}
