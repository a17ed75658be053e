package opsclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMaintenanceSweepNow(t *testing.T) {
	clock := newFakeClock()
	client := New(WithClock(clock.Now), WithCache(time.Minute), WithRateLimit(10, time.Minute))
	defer client.Close(context.Background())

	client.Cache().Set("old", &CacheEntry{Response: &Response{Success: true}}, time.Second)
	client.Cache().Set("fresh", &CacheEntry{Response: &Response{Success: true}}, time.Hour)
	client.limiter.Allow("/a")
	client.limiter.Allow("/b")

	clock.Advance(2 * time.Minute)

	m := &Maintenance{client: client}
	report := m.SweepNow()
	want := MaintenanceReport{CacheSwept: 1, CacheEntries: 1, WindowsPruned: 2}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}

	if again := m.SweepNow(); again.CacheSwept != 0 || again.WindowsPruned != 0 {
		t.Errorf("second pass = %+v, want nothing left to remove", again)
	}
}

func TestMaintenanceWithoutCacheOrLimiter(t *testing.T) {
	client := New(WithoutCache(), WithoutRateLimit())
	defer client.Close(context.Background())

	m := &Maintenance{client: client}
	if report := m.SweepNow(); report != (MaintenanceReport{}) {
		t.Errorf("report = %+v", report)
	}
}

func TestStartMaintenance(t *testing.T) {
	client := New()
	defer client.Close(context.Background())

	if _, err := client.StartMaintenance("not a schedule"); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}

	m, err := client.StartMaintenance("@every 1h")
	if err != nil {
		t.Fatalf("StartMaintenance: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
