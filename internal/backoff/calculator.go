package backoff

import (
	"sync"
	"time"
)

// Calculator computes delays with a swappable strategy.
type Calculator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// NewCalculator creates a new backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{
		strategy: strategy,
	}
}

// Calculate delegates to the configured strategy.
func (c *Calculator) Calculate(attempt int, base time.Duration) time.Duration {
	c.mu.RLock()
	s := c.strategy
	c.mu.RUnlock()
	return s.Delay(attempt, base)
}

// SetStrategy updates the backoff strategy used by this calculator.
func (c *Calculator) SetStrategy(strategy Strategy) {
	c.mu.Lock()
	c.strategy = strategy
	c.mu.Unlock()
}

// GetStrategy returns the current strategy being used by this calculator.
func (c *Calculator) GetStrategy() Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy
}

// GetExponentialJitterCalculator returns a calculator using base*2^(n-1)
// plus up to one second of jitter.
func GetExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{MaxJitter: DefaultMaxJitter})
}
