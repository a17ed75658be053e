package backoff

import (
	"testing"
	"time"
)

func TestExponentialJitterStrategyWithoutJitter(t *testing.T) {
	strategy := ExponentialJitterStrategy{}

	tests := []struct {
		name     string
		attempt  int
		base     time.Duration
		expected time.Duration
	}{
		{name: "attempt 0 clamps to first", attempt: 0, base: 100 * time.Millisecond, expected: 100 * time.Millisecond},
		{name: "attempt 1", attempt: 1, base: 100 * time.Millisecond, expected: 100 * time.Millisecond},
		{name: "attempt 2", attempt: 2, base: 100 * time.Millisecond, expected: 200 * time.Millisecond},
		{name: "attempt 4", attempt: 4, base: 250 * time.Millisecond, expected: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strategy.Delay(tt.attempt, tt.base)
			if result != tt.expected {
				t.Errorf("Delay(%d, %v) = %v, want %v", tt.attempt, tt.base, result, tt.expected)
			}
		})
	}
}

func TestExponentialJitterStrategyJitterBounds(t *testing.T) {
	strategy := ExponentialJitterStrategy{MaxJitter: time.Second}
	base := 100 * time.Millisecond

	for attempt := 1; attempt <= 5; attempt++ {
		floor := Exponential(attempt, base)
		for i := 0; i < 50; i++ {
			d := strategy.Delay(attempt, base)
			if d < floor || d >= floor+time.Second {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, d, floor, floor+time.Second)
			}
		}
	}
}

func TestExponentialJitterStrategyInjectedRand(t *testing.T) {
	strategy := ExponentialJitterStrategy{MaxJitter: time.Second, Rand: func() float64 { return 0.5 }}

	if got := strategy.Delay(3, 100*time.Millisecond); got != 900*time.Millisecond {
		t.Errorf("Delay(3) = %v, want 900ms", got)
	}
}

func TestExponentialOverflow(t *testing.T) {
	d := Exponential(1000, time.Hour)
	if d <= 0 {
		t.Errorf("Exponential overflowed to %v", d)
	}
}

func TestConstantStrategy(t *testing.T) {
	if got := (ConstantStrategy{}).Delay(7, 50*time.Millisecond); got != 50*time.Millisecond {
		t.Errorf("Delay = %v, want 50ms", got)
	}
}
