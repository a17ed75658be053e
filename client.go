package opsclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultBaseDelay      = time.Second
	defaultCacheTTL       = 5 * time.Minute
	defaultRateLimit      = 100
	defaultRateWindow     = time.Minute
	defaultHealthTimeout  = 5 * time.Second
	defaultActivityBuffer = 256
	defaultMaxUploadBytes = 10 << 20
)

// Client owns the cache, rate limiter, scheduler and activity recorder used
// by every request it dispatches. It is safe for concurrent use; construct
// one per process and pass it to the services that need it.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	defaultHeaders map[string]string
	timeout        time.Duration

	maxRetries  int
	baseDelay   time.Duration
	retryPolicy RetryPolicy

	cache         Cache
	cacheTTL      time.Duration
	cacheDisabled bool
	maxCacheSize  int
	coalesce      bool
	group         singleflight.Group

	limiter        Limiter
	rateLimit      int
	rateWindow     time.Duration
	endpointLimits map[string]endpointLimit

	data             DataBackend
	storage          ObjectStore
	externalServices []string
	healthTimeout    time.Duration

	upload UploadConfig

	activitySink   ActivitySink
	activityBuffer int
	activity       *activityRecorder

	schedulerOnce sync.Once
	scheduler     *Scheduler

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	// closers are released by Close after the activity recorder drains.
	closers []io.Closer

	validationError error
	closeOnce       sync.Once
}

type endpointLimit struct {
	limit  int
	window time.Duration
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:     &http.Client{},
		timeout:        defaultTimeout,
		maxRetries:     defaultMaxRetries,
		baseDelay:      defaultBaseDelay,
		cacheTTL:       defaultCacheTTL,
		rateLimit:      defaultRateLimit,
		rateWindow:     defaultRateWindow,
		endpointLimits: make(map[string]endpointLimit),
		healthTimeout:  defaultHealthTimeout,
		upload:         DefaultUploadConfig(),
		activityBuffer: defaultActivityBuffer,
		debug:          DefaultDebugConfig(),
		now:            time.Now,
		sleep:          sleepContext,
	}

	for _, option := range options {
		option(client)
	}

	client.build()

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// build creates the components the options left unset.
func (c *Client) build() {
	if c.logger == nil {
		c.logger = NopLogger()
	}
	if c.debug == nil {
		c.debug = DefaultDebugConfig()
	}
	if c.debug.RequestIDGen == nil {
		c.debug.RequestIDGen = DefaultDebugConfig().RequestIDGen
	}
	if c.retryPolicy == nil {
		c.retryPolicy = NewDefaultRetryPolicy()
	}

	if c.cache == nil && !c.cacheDisabled {
		if c.maxCacheSize > 0 {
			bounded, err := newBoundedCache(c.maxCacheSize, c.now)
			if err != nil {
				c.validationError = err
			} else {
				c.cache = bounded
			}
		}
		if c.cache == nil {
			c.cache = newInMemoryCache(c.now)
		}
	}

	if c.limiter == nil && c.rateLimit > 0 {
		registry := NewRateLimiterRegistry(newFixedWindowLimiter(c.rateLimit, c.rateWindow, c.now))
		for endpoint, l := range c.endpointLimits {
			registry.RegisterLimiter(endpoint, newFixedWindowLimiter(l.limit, l.window, c.now))
		}
		c.limiter = registry
	}

	if c.activitySink != nil {
		c.activity = newActivityRecorder(c.activitySink, c.activityBuffer, c.logger, c.metrics)
	}

	c.scheduler = newScheduler(c.Do, c.metrics, c.logger)
}

// IsValid reports whether the configuration passed validation.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the configuration error found by New, if any.
func (c *Client) ValidationError() error { return c.validationError }

// Get issues a GET. query may be nil.
func (c *Client) Get(ctx context.Context, target string, query map[string]string) (*Response, error) {
	return c.Do(ctx, NewRequest(MethodGet, target).WithQuery(query))
}

// Post issues a POST with body.
func (c *Client) Post(ctx context.Context, target string, body any) (*Response, error) {
	return c.Do(ctx, NewRequest(MethodPost, target).WithBody(body))
}

// Put issues a PUT with body.
func (c *Client) Put(ctx context.Context, target string, body any) (*Response, error) {
	return c.Do(ctx, NewRequest(MethodPut, target).WithBody(body))
}

// Patch issues a PATCH with body.
func (c *Client) Patch(ctx context.Context, target string, body any) (*Response, error) {
	return c.Do(ctx, NewRequest(MethodPatch, target).WithBody(body))
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, NewRequest(MethodDelete, target))
}

// Send dispatches req and decodes the payload into T.
func Send[T any](ctx context.Context, c *Client, req Request) (*Envelope[T], error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return Decode[T](resp)
}

// Enqueue hands req to the priority scheduler and returns immediately. The
// scheduler worker starts on first use.
func (c *Client) Enqueue(ctx context.Context, req Request) *Future {
	c.schedulerOnce.Do(c.scheduler.start)
	return c.scheduler.Enqueue(ctx, req)
}

// Scheduler exposes the queued-path scheduler for state inspection.
func (c *Client) Scheduler() *Scheduler { return c.scheduler }

// ClearCache flushes every cached response.
func (c *Client) ClearCache() {
	if c.cache == nil {
		return
	}
	c.cache.Clear()
	c.metrics.RecordCacheSize("responses", 0)
}

// InvalidateCache drops the cached response for one target and query.
func (c *Client) InvalidateCache(target string, query map[string]string) {
	if c.cache == nil {
		return
	}
	c.cache.Delete(CacheKey(target, query))
}

// RateLimitInfo reports the remaining budget for target's endpoint. Limit
// is -1 when the client has no limiter.
func (c *Client) RateLimitInfo(target string) RateLimitInfo {
	if c.limiter == nil {
		return RateLimitInfo{Limit: -1, Remaining: -1}
	}
	return c.limiter.Info(EndpointKey(target))
}

// Metrics returns the collector, or nil when metrics are disabled.
func (c *Client) Metrics() *MetricsCollector { return c.metrics }

// Cache returns the response cache, or nil when caching is disabled.
func (c *Client) Cache() Cache { return c.cache }

// Logger returns the logger the client writes to.
func (c *Client) Logger() Logger { return c.logger }

// Close stops the scheduler, rejecting queued requests, flushes the
// activity recorder and releases backends opened by NewFromConfig. It is
// safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		errs := []error{
			c.scheduler.Close(ctx),
			c.activity.close(ctx),
		}
		for _, closer := range c.closers {
			errs = append(errs, closer.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
