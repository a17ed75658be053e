package opsclient

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterRegistry routes endpoint keys to dedicated limiters and falls
// back to a default limiter for everything else.
type RateLimiterRegistry struct {
	mutex    sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

// NewRateLimiterRegistry creates a registry. A nil fallback disables limiting
// for endpoints without a dedicated limiter.
func NewRateLimiterRegistry(fallback Limiter) *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[string]Limiter),
		fallback: fallback,
	}
}

// RegisterLimiter adds a limiter for the given endpoint key.
func (r *RateLimiterRegistry) RegisterLimiter(endpoint string, limiter Limiter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.limiters[EndpointKey(endpoint)] = limiter
}

// GetLimiter returns the limiter responsible for key.
func (r *RateLimiterRegistry) GetLimiter(key string) Limiter {
	r.mutex.RLock()
	limiter, exists := r.limiters[key]
	r.mutex.RUnlock()

	if exists {
		return limiter
	}
	return r.fallback
}

func (r *RateLimiterRegistry) Allow(key string) error {
	limiter := r.GetLimiter(key)
	if limiter == nil {
		return nil
	}
	return limiter.Allow(key)
}

func (r *RateLimiterRegistry) Info(key string) RateLimitInfo {
	limiter := r.GetLimiter(key)
	if limiter == nil {
		return RateLimitInfo{Limit: -1, Remaining: -1}
	}
	return limiter.Info(key)
}

// Prune forwards to every registered limiter that supports it.
func (r *RateLimiterRegistry) Prune() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	removed := 0
	for _, l := range r.limiters {
		if p, ok := l.(interface{ Prune() int }); ok {
			removed += p.Prune()
		}
	}
	if p, ok := r.fallback.(interface{ Prune() int }); ok {
		removed += p.Prune()
	}
	return removed
}

// TokenBucketLimiter is a smoother alternative to the fixed window: each
// endpoint gets a bucket of burst tokens refilled at limit per window.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// NewTokenBucketLimiter allows limit calls per window with bursts up to limit.
func NewTokenBucketLimiter(limit int, window time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func (l *TokenBucketLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

func (l *TokenBucketLimiter) Allow(key string) error {
	b := l.bucket(key)
	now := l.now()
	if b.AllowN(now, 1) {
		return nil
	}
	return rateLimitedError(key, now.Add(l.untilNextToken(b, now)))
}

func (l *TokenBucketLimiter) Info(key string) RateLimitInfo {
	b := l.bucket(key)
	now := l.now()
	tokens := b.TokensAt(now)
	return RateLimitInfo{
		Limit:     l.burst,
		Remaining: max(int(tokens), 0),
		ResetAt:   now.Add(l.untilNextToken(b, now)),
	}
}

func (l *TokenBucketLimiter) untilNextToken(b *rate.Limiter, now time.Time) time.Duration {
	missing := 1 - b.TokensAt(now)
	if missing <= 0 || l.limit <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.limit) * float64(time.Second))
}
