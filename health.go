package opsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the outcome of a probe or of the whole report.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	// HealthStatusSkipped marks a dependency the client was built without.
	HealthStatusSkipped HealthStatus = "skipped"
)

// Names of the checks in a HealthReport.
const (
	CheckDatabase         = "database"
	CheckStorage          = "storage"
	CheckCache            = "cache"
	CheckExternalServices = "externalServices"
)

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status       HealthStatus      `json:"status"`
	ResponseTime time.Duration     `json:"-"`
	Message      string            `json:"message,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// MarshalJSON reports the response time in milliseconds.
func (r CheckResult) MarshalJSON() ([]byte, error) {
	type plain CheckResult
	return json.Marshal(struct {
		plain
		ResponseTimeMs float64 `json:"responseTimeMs"`
	}{
		plain:          plain(r),
		ResponseTimeMs: float64(r.ResponseTime) / float64(time.Millisecond),
	})
}

// HealthReport aggregates every probe. Status is unhealthy when any probed
// dependency is unhealthy or when the probes could not be run at all.
type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Healthy reports whether the overall status is healthy.
func (r HealthReport) Healthy() bool { return r.Status == HealthStatusHealthy }

type healthProbe struct {
	name string
	run  func(ctx context.Context) CheckResult
}

// HealthCheck probes the data backend, the object store, the cache and the
// configured external services concurrently. Probe failures and panics are
// recorded on their own check and never returned.
func (c *Client) HealthCheck(ctx context.Context) (report HealthReport) {
	report = HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: c.now(),
		Checks:    make(map[string]CheckResult, 4),
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Health check aborted", "panic", r)
			report.Status = HealthStatusUnhealthy
		}
	}()

	probes := []healthProbe{
		{name: CheckDatabase, run: c.probeDatabase},
		{name: CheckStorage, run: c.probeStorage},
		{name: CheckCache, run: c.probeCache},
		{name: CheckExternalServices, run: c.probeExternalServices},
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, probe := range probes {
		g.Go(func() error {
			result := c.runProbe(ctx, probe)
			mu.Lock()
			report.Checks[probe.name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for name, result := range report.Checks {
		c.metrics.RecordHealthCheck(name, result.Status, result.ResponseTime)
		if result.Status == HealthStatusUnhealthy {
			report.Status = HealthStatusUnhealthy
		}
	}
	return report
}

func (c *Client) runProbe(ctx context.Context, probe healthProbe) (result CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("probe panicked: %v", r)}
		}
		if result.Status != HealthStatusSkipped {
			result.ResponseTime = time.Since(start)
		}
	}()
	return probe.run(ctx)
}

func probeResult(err error) CheckResult {
	if err != nil {
		return CheckResult{Status: HealthStatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy}
}

func (c *Client) probeDatabase(ctx context.Context) CheckResult {
	if c.data == nil {
		return CheckResult{Status: HealthStatusSkipped, Message: "no data backend configured"}
	}
	return probeResult(c.data.Ping(ctx))
}

func (c *Client) probeStorage(ctx context.Context) CheckResult {
	if c.storage == nil {
		return CheckResult{Status: HealthStatusSkipped, Message: "no object store configured"}
	}
	return probeResult(c.storage.Ping(ctx))
}

const healthCacheKey = "__opsclient_health__"

// probeCache pings caches with a remote backend and round-trips a sentinel
// entry through local ones.
func (c *Client) probeCache(ctx context.Context) CheckResult {
	if c.cache == nil {
		return CheckResult{Status: HealthStatusSkipped, Message: "cache disabled"}
	}
	if p, ok := c.cache.(Pinger); ok {
		return probeResult(p.Ping(ctx))
	}

	c.cache.Set(healthCacheKey, &CacheEntry{Response: &Response{Success: true}}, time.Minute)
	_, found := c.cache.Get(healthCacheKey)
	c.cache.Delete(healthCacheKey)
	if !found {
		return CheckResult{Status: HealthStatusUnhealthy, Message: "cache round trip failed"}
	}
	return CheckResult{Status: HealthStatusHealthy, Details: map[string]string{"entries": fmt.Sprint(c.cache.Len())}}
}

// probeExternalServices issues a plain GET to every configured URL outside
// the request pipeline. Any status below 500 counts as reachable.
func (c *Client) probeExternalServices(ctx context.Context) CheckResult {
	if len(c.externalServices) == 0 {
		return CheckResult{Status: HealthStatusSkipped, Message: "no external services configured"}
	}

	details := make(map[string]string, len(c.externalServices))
	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	for _, target := range c.externalServices {
		g.Go(func() error {
			status := "ok"
			if err := c.pingURL(ctx, target); err != nil {
				status = err.Error()
				mu.Lock()
				failed = append(failed, target)
				mu.Unlock()
			}
			mu.Lock()
			details[target] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return CheckResult{
			Status:  HealthStatusUnhealthy,
			Message: fmt.Sprintf("unreachable: %s", strings.Join(failed, ", ")),
			Details: details,
		}
	}
	return CheckResult{Status: HealthStatusHealthy, Details: details}
}

func (c *Client) pingURL(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
