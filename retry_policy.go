package opsclient

import (
	"time"

	internalbackoff "github.com/ambiyansyah-risyal/opsclient/internal/backoff"
)

// RetryPolicy decides whether and when a failed attempt is repeated. The
// dispatcher owns the loop; policies hold no per-request state.
type RetryPolicy interface {
	// ShouldRetry is consulted after failed attempt number attempt (1-based).
	ShouldRetry(err error, attempt, maxRetries int) bool
	// DelayFor is the wait before the attempt following attempt.
	DelayFor(attempt int, base time.Duration) time.Duration
}

// DefaultRetryPolicy retries network, timeout and 5xx failures while
// attempt <= maxRetries, waiting base*2^(attempt-1) plus up to a second of jitter.
type DefaultRetryPolicy struct {
	backoffCalculator *internalbackoff.Calculator
}

// NewDefaultRetryPolicy creates the standard policy.
func NewDefaultRetryPolicy() *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		backoffCalculator: internalbackoff.GetExponentialJitterCalculator(),
	}
}

// NewRetryPolicyWithJitter uses a custom jitter bound and random source.
// A nil rnd uses math/rand/v2.
func NewRetryPolicyWithJitter(maxJitter time.Duration, rnd func() float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		backoffCalculator: internalbackoff.NewCalculator(internalbackoff.ExponentialJitterStrategy{
			MaxJitter: maxJitter,
			Rand:      rnd,
		}),
	}
}

func (p *DefaultRetryPolicy) ShouldRetry(err error, attempt, maxRetries int) bool {
	if err == nil || attempt > maxRetries {
		return false
	}
	return IsRetryable(err)
}

func (p *DefaultRetryPolicy) DelayFor(attempt int, base time.Duration) time.Duration {
	return p.backoffCalculator.Calculate(attempt, base)
}
