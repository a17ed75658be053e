// Package backoff computes the wait inserted between retry attempts.
package backoff

import (
	"math/rand/v2"
	"time"
)

// maxShift caps the exponent so base<<shift cannot overflow.
const maxShift = 30

// DefaultMaxJitter is the upper bound (exclusive) of the added jitter.
const DefaultMaxJitter = time.Second

// Strategy computes the delay before retry number attempt (1-based).
type Strategy interface {
	Delay(attempt int, base time.Duration) time.Duration
}

// ExponentialJitterStrategy doubles the base delay per attempt and adds a
// uniformly random jitter in [0, MaxJitter).
type ExponentialJitterStrategy struct {
	MaxJitter time.Duration
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Delay returns base*2^(attempt-1) + jitter.
func (s ExponentialJitterStrategy) Delay(attempt int, base time.Duration) time.Duration {
	delay := Exponential(attempt, base)

	if s.MaxJitter > 0 {
		rnd := s.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += time.Duration(rnd() * float64(s.MaxJitter))
	}
	return delay
}

// ConstantStrategy always waits the base delay.
type ConstantStrategy struct{}

func (ConstantStrategy) Delay(_ int, base time.Duration) time.Duration {
	return base
}

// Exponential returns base*2^(attempt-1) without jitter.
func Exponential(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	delay := base << uint(shift)
	if delay < 0 || delay>>uint(shift) != base {
		return time.Duration(1<<63 - 1)
	}
	return delay
}
