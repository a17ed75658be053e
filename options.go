package opsclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the origin that relative HTTP targets are joined to.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for HTTP targets and external
// service probes. Per-attempt deadlines come from the request context, so
// the client's own Timeout is left alone.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the default per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retries after the first attempt
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the delay the exponential backoff starts from
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithRetryPolicy replaces the retry decision and delay computation
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithDefaultHeaders sets headers sent with every request. Per-request
// headers override them key by key.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.defaultHeaders = mergeMaps(c.defaultHeaders, headers)
	}
}

// WithCache enables the default sharded in-memory cache
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = nil
		c.cacheDisabled = false
		c.cacheTTL = ttl
	}
}

// WithCustomCache sets a custom cache implementation
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheDisabled = false
		c.cacheTTL = ttl
	}
}

// WithBoundedCache uses an LRU cache holding at most maxEntries responses.
func WithBoundedCache(maxEntries int, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = nil
		c.cacheDisabled = false
		c.maxCacheSize = maxEntries
		c.cacheTTL = ttl
	}
}

// WithoutCache disables response caching
func WithoutCache() Option {
	return func(c *Client) {
		c.cache = nil
		c.cacheDisabled = true
	}
}

// WithCoalescing makes concurrent identical cache misses share one dispatch.
func WithCoalescing() Option {
	return func(c *Client) {
		c.coalesce = true
	}
}

// WithRateLimit sets the default fixed window applied to every endpoint
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *Client) {
		c.rateLimit = limit
		c.rateWindow = window
	}
}

// WithEndpointRateLimit overrides the window for one endpoint. endpoint is
// normalised the same way request targets are.
func WithEndpointRateLimit(endpoint string, limit int, window time.Duration) Option {
	return func(c *Client) {
		if c.endpointLimits == nil {
			c.endpointLimits = make(map[string]endpointLimit)
		}
		c.endpointLimits[EndpointKey(endpoint)] = endpointLimit{limit: limit, window: window}
	}
}

// WithLimiter sets a custom limiter, ignoring the window options
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithTokenBucketRateLimit replaces fixed windows with per-endpoint token
// buckets holding limit tokens and refilling them over window.
func WithTokenBucketRateLimit(limit int, window time.Duration) Option {
	return func(c *Client) {
		c.rateLimit = limit
		c.rateWindow = window
		c.limiter = NewTokenBucketLimiter(limit, window)
	}
}

// WithoutRateLimit disables client-side rate limiting
func WithoutRateLimit() Option {
	return func(c *Client) {
		c.limiter = nil
		c.rateLimit = 0
	}
}

// WithDataBackend sets the backend serving /rest/v1/ targets
func WithDataBackend(backend DataBackend) Option {
	return func(c *Client) {
		c.data = backend
	}
}

// WithObjectStore sets the store serving /storage/v1/object/ targets
func WithObjectStore(store ObjectStore) Option {
	return func(c *Client) {
		c.storage = store
	}
}

// WithExternalServices adds URLs probed by HealthCheck.
func WithExternalServices(urls ...string) Option {
	return func(c *Client) {
		c.externalServices = append(c.externalServices, urls...)
	}
}

// WithHealthTimeout bounds each health probe
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.healthTimeout = d
	}
}

// WithUploadConfig sets the upload size and content type rules
func WithUploadConfig(cfg UploadConfig) Option {
	return func(c *Client) {
		c.upload = cfg
	}
}

// WithActivitySink records an activity event for every request
func WithActivitySink(sink ActivitySink) Option {
	return func(c *Client) {
		c.activitySink = sink
	}
}

// WithActivityBuffer sets how many events may wait for the sink before new
// ones are dropped.
func WithActivityBuffer(n int) Option {
	return func(c *Client) {
		c.activityBuffer = n
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithClock replaces time.Now for cache expiry, rate windows and activity
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateRetryConfig()...)
	errs = append(errs, c.validateCacheConfig()...)
	errs = append(errs, c.validateRateLimiterConfig()...)
	errs = append(errs, c.validateTransportConfig()...)
	errs = append(errs, c.validateUploadConfig()...)
	errs = append(errs, c.validateDebugConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &APIError{
			Kind:      KindValidation,
			Message:   "configuration validation failed: " + strings.Join(errs, "; "),
			Cause:     ErrValidation,
			Timestamp: time.Now(),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errs []string

	if c.maxRetries < 0 {
		errs = append(errs, "maxRetries must be non-negative")
	}
	if c.baseDelay <= 0 {
		errs = append(errs, "baseDelay must be positive")
	}
	if c.timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	return errs
}

func (c *Client) validateCacheConfig() []string {
	var errs []string

	if c.cache != nil && c.cacheTTL <= 0 {
		errs = append(errs, "cacheTTL must be positive when cache is enabled")
	}
	if c.maxCacheSize < 0 {
		errs = append(errs, "bounded cache size must be positive")
	}

	return errs
}

func (c *Client) validateRateLimiterConfig() []string {
	var errs []string

	if c.rateLimit < 0 {
		errs = append(errs, "rate limit must be non-negative")
	}
	if c.rateLimit > 0 && c.rateWindow <= 0 {
		errs = append(errs, "rate window must be positive")
	}
	for endpoint, l := range c.endpointLimits {
		if l.limit <= 0 || l.window <= 0 {
			errs = append(errs, fmt.Sprintf("rate limit for %s must have a positive limit and window", endpoint))
		}
	}

	return errs
}

func (c *Client) validateTransportConfig() []string {
	var errs []string

	if c.httpClient == nil {
		errs = append(errs, "HTTP client cannot be nil")
	}
	if c.baseURL != "" && !strings.Contains(c.baseURL, "://") {
		errs = append(errs, fmt.Sprintf("baseURL %q must be absolute", c.baseURL))
	}
	if c.healthTimeout <= 0 {
		errs = append(errs, "health timeout must be positive")
	}
	for i, u := range c.externalServices {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Sprintf("externalServices[%d] %q must be an http(s) URL", i, u))
		}
	}

	return errs
}

func (c *Client) validateUploadConfig() []string {
	var errs []string

	if c.upload.MaxBytes <= 0 {
		errs = append(errs, "upload max bytes must be positive")
	}

	return errs
}

func (c *Client) validateDebugConfig() []string {
	var errs []string

	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen == nil {
		errs = append(errs, "debug RequestIDGen must be set when debug is enabled")
	}

	return errs
}

func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.maxRetries > 100 {
		errs = append(errs, "maxRetries > 100 may cause excessive resource usage")
	}
	if c.baseDelay > 10*time.Minute {
		errs = append(errs, "baseDelay > 10 minutes may cause excessive delays")
	}
	if c.timeout > 10*time.Minute {
		errs = append(errs, "timeout > 10 minutes may cause resource leaks")
	}

	return errs
}
