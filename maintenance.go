package opsclient

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Maintenance periodically sweeps expired cache entries and prunes idle
// rate-limit windows so long-running processes do not accumulate keys.
type Maintenance struct {
	client *Client
	cron   *cron.Cron
}

// MaintenanceReport is the outcome of one maintenance run.
type MaintenanceReport struct {
	CacheSwept    int
	CacheEntries  int
	WindowsPruned int
}

// StartMaintenance schedules maintenance with a standard cron spec or a
// descriptor such as "@every 1m".
func (c *Client) StartMaintenance(spec string) (*Maintenance, error) {
	m := &Maintenance{client: c, cron: cron.New()}
	if _, err := m.cron.AddFunc(spec, func() { m.SweepNow() }); err != nil {
		return nil, validationError("invalid maintenance schedule %q: %v", spec, err)
	}
	m.cron.Start()
	c.logger.Debug("Maintenance scheduled", "spec", spec)
	return m, nil
}

// SweepNow runs one maintenance pass immediately.
func (m *Maintenance) SweepNow() MaintenanceReport {
	c := m.client
	var report MaintenanceReport

	if s, ok := c.cache.(Sweeper); ok {
		report.CacheSwept = s.Sweep()
	}
	if c.cache != nil {
		report.CacheEntries = c.cache.Len()
		c.metrics.RecordCacheSize("responses", report.CacheEntries)
	}
	if p, ok := c.limiter.(interface{ Prune() int }); ok {
		report.WindowsPruned = p.Prune()
	}

	if report.CacheSwept > 0 || report.WindowsPruned > 0 {
		c.logger.Debug("Maintenance pass", "cacheSwept", report.CacheSwept, "cacheEntries", report.CacheEntries, "windowsPruned", report.WindowsPruned)
	}
	return report
}

// Stop cancels the schedule and waits for a running pass to finish.
func (m *Maintenance) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance stop: %w", ctx.Err())
	}
}
