package opsclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// the scheduler, batches, health probes and the activity recorder. All
// recorders are safe to call on a nil collector.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	rateLimitedTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	coalescedTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	queueDepth   *prometheus.GaugeVec
	batchResults *prometheus.CounterVec

	healthStatus   *prometheus.GaugeVec
	healthDuration *prometheus.HistogramVec

	activityDropped prometheus.Counter

	registry *prometheus.Registry
}

// NewMetricsCollector creates a collector on a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registry.
func NewMetricsCollectorWithRegistry(registry *prometheus.Registry) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsclient_request_duration_seconds",
				Help:    "Duration of dispatched requests in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsclient_requests_in_flight",
				Help: "Number of requests currently being dispatched",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		rateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_rate_limited_total",
				Help: "Total number of requests rejected by the local rate limiter",
			},
			[]string{"endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method", "endpoint"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsclient_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		coalescedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_coalesced_total",
				Help: "Total number of GETs served by an identical in-flight request",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_errors_total",
				Help: "Total number of failed requests by error kind",
			},
			[]string{"kind", "method", "endpoint"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsclient_queue_depth",
				Help: "Number of requests waiting in the scheduler per priority",
			},
			[]string{"priority"},
		),
		batchResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsclient_batch_results_total",
				Help: "Total number of batch entries by outcome",
			},
			[]string{"outcome"},
		),
		healthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsclient_health_check_status",
				Help: "Last health probe result (1=healthy, 0=unhealthy, -1=skipped)",
			},
			[]string{"check"},
		),
		healthDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsclient_health_check_duration_seconds",
				Help:    "Duration of health probes in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),
		activityDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsclient_activity_dropped_total",
				Help: "Total number of activity events dropped because the buffer was full",
			},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method Method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(string(method), statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(string(method), statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method Method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(string(method), endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method Method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(string(method), endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method Method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(string(method), endpoint, strconv.Itoa(attempt)).Inc()
}

func (mc *MetricsCollector) RecordRateLimited(endpoint string) {
	if mc == nil {
		return
	}

	mc.rateLimitedTotal.WithLabelValues(endpoint).Inc()
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(method Method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(string(method), endpoint).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(method Method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(string(method), endpoint).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

func (mc *MetricsCollector) RecordCoalesced(method Method, endpoint string) {
	if mc == nil {
		return
	}

	mc.coalescedTotal.WithLabelValues(string(method), endpoint).Inc()
}

// RecordError increments error counter by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, method Method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(kind), string(method), endpoint).Inc()
}

// RecordQueueDepth sets the waiting count of one priority level.
func (mc *MetricsCollector) RecordQueueDepth(priority Priority, depth int) {
	if mc == nil {
		return
	}

	mc.queueDepth.WithLabelValues(string(priority)).Set(float64(depth))
}

// RecordBatchResult counts one batch entry. outcome is "success" or "error".
func (mc *MetricsCollector) RecordBatchResult(outcome string) {
	if mc == nil {
		return
	}

	mc.batchResults.WithLabelValues(outcome).Inc()
}

// RecordHealthCheck stores the outcome of one probe.
func (mc *MetricsCollector) RecordHealthCheck(check string, status HealthStatus, duration time.Duration) {
	if mc == nil {
		return
	}

	value := 0.0
	switch status {
	case HealthStatusHealthy:
		value = 1
	case HealthStatusSkipped:
		value = -1
	}
	mc.healthStatus.WithLabelValues(check).Set(value)
	mc.healthDuration.WithLabelValues(check).Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordActivityDropped() {
	if mc == nil {
		return
	}

	mc.activityDropped.Inc()
}

// GetRegistry exposes the underlying prometheus registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
