package opsclient

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimitInfo is the client-side view of an endpoint's budget.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Limiter gates requests per endpoint key. Allow returns an *APIError of
// kind KindRateLimited when the request must be rejected.
type Limiter interface {
	Allow(key string) error
	Info(key string) RateLimitInfo
}

// FixedWindowLimiter allows up to limit calls per endpoint within a window
// that starts with the first call after the previous window expired.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*rateLimitWindow
	now     func() time.Time
}

type rateLimitWindow struct {
	count   int
	resetAt time.Time
}

// NewFixedWindowLimiter creates a limiter allowing limit calls per window.
func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	return newFixedWindowLimiter(limit, window, time.Now)
}

func newFixedWindowLimiter(limit int, window time.Duration, now func() time.Time) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateLimitWindow),
		now:     now,
	}
}

// Allow consumes one call from key's window.
func (l *FixedWindowLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.current(key, now)
	if w.count >= l.limit {
		return rateLimitedError(key, w.resetAt)
	}
	w.count++
	return nil
}

// current returns key's live window, starting a new one when the previous
// window has expired. Callers hold l.mu.
func (l *FixedWindowLimiter) current(key string, now time.Time) *rateLimitWindow {
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &rateLimitWindow{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	return w
}

func (l *FixedWindowLimiter) Info(key string) RateLimitInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		return RateLimitInfo{Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}
	return RateLimitInfo{
		Limit:     l.limit,
		Remaining: max(l.limit-w.count, 0),
		ResetAt:   w.resetAt,
	}
}

// Prune drops windows that have expired. Returns the number removed.
func (l *FixedWindowLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func rateLimitedError(key string, resetAt time.Time) *APIError {
	e := newAPIError(KindRateLimited, fmt.Sprintf("rate limit exceeded for %s, resets at %s", key, resetAt.Format(time.RFC3339)), nil)
	e.StatusCode = http.StatusTooManyRequests
	e.Endpoint = key
	return e
}
