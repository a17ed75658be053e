package opsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// preparedRequest is the enriched copy of a Request built once per call and
// reused by every attempt.
type preparedRequest struct {
	Request
	requestID   string
	url         string
	headers     map[string]string
	payload     []byte
	contentType string
}

// Do executes req through the full pipeline: cache lookup for eligible
// GETs, rate limiting, the retrying transport loop, cache store and
// activity recording. Failures are always *APIError values.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	start := c.now()
	req = req.clone()
	endpoint := EndpointKey(req.Target)
	requestID := c.debug.RequestIDGen()

	c.debugLog(c.debug.LogRequests, "Starting request", "requestID", requestID, "method", req.Method, "target", req.Target, "transport", req.Transport.Kind)

	resp, err := c.execute(ctx, req, endpoint, requestID)
	duration := c.now().Sub(start)

	var apiErr *APIError
	if err != nil {
		apiErr = c.annotate(err, req, endpoint, requestID, duration)
		c.metrics.RecordError(apiErr.Kind, req.Method, endpoint)
		c.debugLog(c.debug.LogRequests, "Request failed", "requestID", requestID, "kind", apiErr.Kind, "error", apiErr.Message)
	}

	c.recordActivity(req, requestID, resp, apiErr, start, duration)

	if apiErr != nil {
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, req Request, endpoint, requestID string) (*Response, error) {
	if c.cache == nil || !req.cacheEligible() {
		return c.dispatch(ctx, req, endpoint, requestID)
	}

	key := CacheKey(req.Target, req.Query)
	if entry, found := c.cache.Get(key); found {
		c.debugLog(c.debug.LogCache, "Cache hit", "requestID", requestID, "cacheKey", key)
		c.metrics.RecordCacheHit(req.Method, endpoint)
		hit := copyResponse(entry.Response)
		hit.Cached = true
		return hit, nil
	}
	c.metrics.RecordCacheMiss(req.Method, endpoint)
	c.debugLog(c.debug.LogCache, "Cache miss", "requestID", requestID, "cacheKey", key)

	fetch := func(ctx context.Context) (*Response, error) {
		resp, err := c.dispatch(ctx, req, endpoint, requestID)
		if err == nil && resp.Success {
			c.cache.Set(key, &CacheEntry{Response: copyResponse(resp)}, c.cacheTTLFor(req))
		}
		return resp, err
	}
	if !c.coalesce {
		return fetch(ctx)
	}

	// The shared fetch outlives any single waiter; each attempt is still
	// bounded by the per-attempt timeout.
	sharedCtx := context.WithoutCancel(ctx)
	results := c.group.DoChan(key, func() (any, error) {
		return fetch(sharedCtx)
	})
	select {
	case res := <-results:
		if res.Shared {
			c.metrics.RecordCoalesced(req.Method, endpoint)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return copyResponse(res.Val.(*Response)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// copyResponse returns a deep copy so callers never share Data or
// Pagination with the cache or with each other.
func copyResponse(resp *Response) *Response {
	out := *resp
	if resp.Data != nil {
		out.Data = bytes.Clone(resp.Data)
	}
	if resp.Pagination != nil {
		p := *resp.Pagination
		out.Pagination = &p
	}
	return &out
}

// dispatch runs the rate limiter gate once, then the transport with retries.
// Neither the cache nor the limiter is consulted again between attempts.
func (c *Client) dispatch(ctx context.Context, req Request, endpoint, requestID string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Allow(endpoint); err != nil {
			c.metrics.RecordRateLimited(endpoint)
			c.debugLog(c.debug.LogRateLimit, "Rate limited", "requestID", requestID, "endpoint", endpoint)
			return nil, err
		}
	}

	p, err := c.prepare(req, requestID)
	if err != nil {
		return nil, err
	}

	maxRetries := c.maxRetriesFor(req)
	timeout := c.timeoutFor(req)

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	start := time.Now()
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, p, timeout)
		if err == nil {
			c.metrics.RecordRequest(req.Method, endpoint, resp.StatusCode, time.Since(start))
			return resp, nil
		}

		failure := *classify(err)
		failure.Attempt = attempt
		failure.MaxRetries = maxRetries

		if !c.retryPolicy.ShouldRetry(&failure, attempt, maxRetries) {
			c.metrics.RecordRequest(req.Method, endpoint, failure.StatusCode, time.Since(start))
			return nil, &failure
		}

		delay := c.retryPolicy.DelayFor(attempt, c.baseDelay)
		c.metrics.RecordRetry(req.Method, endpoint, attempt)
		c.debugLog(c.debug.LogRetries, "Retrying request", "requestID", requestID, "attempt", attempt, "maxRetries", maxRetries, "delay", delay, "error", failure.Message)

		if err := c.sleep(ctx, delay); err != nil {
			c.metrics.RecordRequest(req.Method, endpoint, failure.StatusCode, time.Since(start))
			return nil, &failure
		}
	}
}

// attempt executes one transport call bounded by its own deadline.
func (c *Client) attempt(ctx context.Context, p *preparedRequest, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch p.Transport.Kind {
	case TransportData:
		return c.doData(attemptCtx, p)
	case TransportStorage:
		return c.doStorage(attemptCtx, p)
	default:
		return c.doHTTP(attemptCtx, p)
	}
}

// prepare merges headers, qualifies the target and encodes the body.
func (c *Client) prepare(req Request, requestID string) (*preparedRequest, error) {
	if !req.Method.valid() {
		return nil, validationError("unsupported method %q", req.Method)
	}

	p := &preparedRequest{
		Request:   req,
		requestID: requestID,
		headers:   mergeMaps(c.defaultHeaders, req.Headers),
	}
	if p.headers == nil {
		p.headers = make(map[string]string, 1)
	}
	p.headers["X-Request-ID"] = requestID

	switch req.Transport.Kind {
	case TransportData:
		t := req.Transport
		if (req.Method == MethodPut || req.Method == MethodPatch || req.Method == MethodDelete) && t.ID == "" {
			return nil, validationError("%s %s requires a record id", req.Method, req.Target)
		}
		p.url = dataPathPrefix + t.Resource
		if t.ID != "" {
			p.url += "/" + t.ID
		}
		return p, nil

	case TransportStorage:
		t := req.Transport
		if req.Method == MethodPatch {
			return nil, validationError("PATCH is not supported for storage target %s", req.Target)
		}
		if t.Key == "" {
			return nil, validationError("%s %s requires an object key", req.Method, req.Target)
		}
		p.url = storagePathPrefix + t.Bucket + "/" + t.Key

	default:
		u, err := c.resolveURL(req.Target, req.Query)
		if err != nil {
			return nil, err
		}
		p.url = u
	}

	payload, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, validationError("encode request body: %v", err)
	}
	p.payload = payload
	p.contentType = contentType
	return p, nil
}

// resolveURL joins relative targets to the base URL and applies query.
func (c *Client) resolveURL(target string, query map[string]string) (string, error) {
	raw := target
	if !strings.Contains(target, "://") {
		if c.baseURL == "" {
			return "", validationError("relative target %q requires a base URL", target)
		}
		raw = strings.TrimSuffix(c.baseURL, "/") + "/" + strings.TrimPrefix(target, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", validationError("invalid target %q: %v", target, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case RawBody:
		return b.Data, contentTypeOr(b.ContentType, "application/octet-stream"), nil
	case *RawBody:
		return b.Data, contentTypeOr(b.ContentType, "application/octet-stream"), nil
	case json.RawMessage:
		return b, "application/json", nil
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/octet-stream", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func contentTypeOr(ct, fallback string) string {
	if ct == "" {
		return fallback
	}
	return ct
}

// annotate returns a private copy of err's classification carrying the
// request's identity.
func (c *Client) annotate(err error, req Request, endpoint, requestID string, duration time.Duration) *APIError {
	e := *classify(err)
	if e.RequestID == "" {
		e.RequestID = requestID
	}
	if e.Method == "" {
		e.Method = req.Method
	}
	if e.Target == "" {
		e.Target = req.Target
	}
	if e.Endpoint == "" {
		e.Endpoint = endpoint
	}
	e.Duration = duration
	return &e
}

// reject fails req before it reaches the pipeline, still recording the
// error and its activity event.
func (c *Client) reject(req Request, err error) *APIError {
	start := c.now()
	endpoint := EndpointKey(req.Target)
	apiErr := c.annotate(err, req, endpoint, c.debug.RequestIDGen(), 0)
	c.metrics.RecordError(apiErr.Kind, req.Method, endpoint)
	c.recordActivity(req, apiErr.RequestID, nil, apiErr, start, 0)
	return apiErr
}

func (c *Client) maxRetriesFor(req Request) int {
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		return *req.MaxRetries
	}
	return c.maxRetries
}

func (c *Client) timeoutFor(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return c.timeout
}

func (c *Client) cacheTTLFor(req Request) time.Duration {
	if req.CacheTTL > 0 {
		return req.CacheTTL
	}
	return c.cacheTTL
}

func (c *Client) debugLog(category bool, msg string, keysAndValues ...any) {
	if c.debug == nil || !c.debug.Enabled || !category {
		return
	}
	c.logger.Debug(msg, keysAndValues...)
}

func notConfigured(what, target string) *APIError {
	return newAPIError(KindUnknown, fmt.Sprintf("no %s configured for %s", what, target), ErrNotConfigured)
}
