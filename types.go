package opsclient

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Method is the HTTP-shaped verb of a request.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

func (m Method) valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// Priority controls the dequeue order of scheduled requests.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Priorities lists the levels from first to last serviced.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// index returns the queue slot of p. Unknown and empty values map to normal.
func (p Priority) index() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// TransportKind selects where a request is executed.
type TransportKind string

const (
	TransportHTTP    TransportKind = "http"
	TransportData    TransportKind = "data"
	TransportStorage TransportKind = "storage"
)

const (
	dataPathPrefix    = "/rest/v1/"
	storagePathPrefix = "/storage/v1/object/"
)

// Transport is the resolved route of a request. Resource and ID are set for
// data backend targets, Bucket and Key for object storage targets.
type Transport struct {
	Kind     TransportKind
	Resource string
	ID       string
	Bucket   string
	Key      string
}

// ResolveTransport inspects a target once and returns its route. Absolute
// URLs are always plain HTTP.
func ResolveTransport(target string) Transport {
	if strings.Contains(target, "://") {
		return Transport{Kind: TransportHTTP}
	}
	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	switch {
	case strings.HasPrefix(path, dataPathPrefix):
		rest := strings.Trim(strings.TrimPrefix(path, dataPathPrefix), "/")
		if rest == "" {
			break
		}
		resource, id, _ := strings.Cut(rest, "/")
		return Transport{Kind: TransportData, Resource: resource, ID: id}
	case strings.HasPrefix(path, storagePathPrefix):
		rest := strings.Trim(strings.TrimPrefix(path, storagePathPrefix), "/")
		if rest == "" {
			break
		}
		bucket, key, _ := strings.Cut(rest, "/")
		return Transport{Kind: TransportStorage, Bucket: bucket, Key: key}
	}
	return Transport{Kind: TransportHTTP}
}

// Request describes one call. It is a value: the With* helpers return
// modified copies and the client never mutates the caller's maps.
type Request struct {
	Method  Method
	Target  string
	Query   map[string]string
	Body    any
	Headers map[string]string

	// Timeout bounds each attempt. Zero uses the client default.
	Timeout time.Duration
	// MaxRetries overrides the client default when set.
	MaxRetries *int
	// Cache overrides cache participation. By default GETs are cached.
	Cache *bool
	// CacheTTL overrides the client default TTL when positive.
	CacheTTL time.Duration
	Priority Priority

	Transport Transport
}

// NewRequest creates a request and resolves its transport.
func NewRequest(method Method, target string) Request {
	return Request{
		Method:    method,
		Target:    target,
		Priority:  PriorityNormal,
		Transport: ResolveTransport(target),
	}
}

// WithQuery returns a copy with the query parameters merged in.
func (r Request) WithQuery(query map[string]string) Request {
	r.Query = mergeMaps(r.Query, query)
	return r
}

// WithBody returns a copy carrying body.
func (r Request) WithBody(body any) Request {
	r.Body = body
	return r
}

// WithHeaders returns a copy with the headers merged in.
func (r Request) WithHeaders(headers map[string]string) Request {
	r.Headers = mergeMaps(r.Headers, headers)
	return r
}

func (r Request) WithTimeout(d time.Duration) Request {
	r.Timeout = d
	return r
}

func (r Request) WithMaxRetries(n int) Request {
	r.MaxRetries = &n
	return r
}

func (r Request) WithCache(enabled bool) Request {
	r.Cache = &enabled
	return r
}

func (r Request) WithCacheTTL(ttl time.Duration) Request {
	r.CacheTTL = ttl
	return r
}

func (r Request) WithPriority(p Priority) Request {
	r.Priority = p
	return r
}

// cacheEligible reports whether the request reads from and writes to the cache.
func (r Request) cacheEligible() bool {
	if r.Method != MethodGet {
		return false
	}
	if r.Cache != nil {
		return *r.Cache
	}
	return true
}

// clone copies the maps so enrichment never leaks into the caller's copy.
func (r Request) clone() Request {
	r.Query = maps.Clone(r.Query)
	r.Headers = maps.Clone(r.Headers)
	if r.Method == "" {
		r.Method = MethodGet
	}
	if r.Transport.Kind == "" {
		r.Transport = ResolveTransport(r.Target)
	}
	return r
}

func mergeMaps(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return maps.Clone(base)
	}
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// EndpointKey returns the rate limiter grouping for target: the target with
// its query string and fragment removed.
func EndpointKey(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}

// CacheKey serializes a target and its query parameters deterministically.
// Parameters already in the target are merged with query, query winning, so
// "/x?a=1" and "/x" with {a: 1} share a key.
func CacheKey(target string, query map[string]string) string {
	path, rawQuery, hasQuery := strings.Cut(target, "?")
	if len(query) == 0 && !hasQuery {
		return target
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable queries stay part of the path so they never collide.
		path, values = target, make(url.Values, len(query))
	}
	for k, v := range query {
		values.Set(k, v)
	}
	if len(values) == 0 {
		return path
	}
	// Encode sorts by key.
	return path + "?" + values.Encode()
}

// Pagination describes one page of a list response.
type Pagination struct {
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasMore  bool `json:"hasMore"`
}

// Envelope is the uniform shape every call resolves to. Data is meaningful
// only when Success is true.
type Envelope[T any] struct {
	Success    bool        `json:"success"`
	Data       T           `json:"data"`
	Message    string      `json:"message,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`

	StatusCode int  `json:"-"`
	Cached     bool `json:"-"`
}

// Response is the untyped envelope the dispatcher works with.
type Response = Envelope[json.RawMessage]

// Decode converts an untyped response into a typed envelope.
func Decode[T any](resp *Response) (*Envelope[T], error) {
	if resp == nil {
		return nil, newAPIError(KindUnknown, "nil response", nil)
	}
	out := &Envelope[T]{
		Success:    resp.Success,
		Message:    resp.Message,
		Pagination: resp.Pagination,
		StatusCode: resp.StatusCode,
		Cached:     resp.Cached,
	}
	if !resp.Success || len(resp.Data) == 0 || string(resp.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(resp.Data, &out.Data); err != nil {
		return nil, newAPIError(KindUnknown, "decode response data", err)
	}
	return out, nil
}

// RawBody is sent verbatim with the given content type instead of being
// JSON encoded.
type RawBody struct {
	Data        []byte
	ContentType string
}
