// Package postgrest is a small client for Supabase-style PostgREST and
// Storage APIs. Client satisfies the dispatcher's data backend contract and
// Storage its object store contract.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ambiyansyah-risyal/opsclient/internal/backend"
)

const maxBodyBytes = 32 << 20

// Client is a PostgREST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pingTable  string
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	// PingTable is read with limit=1 by Ping. Empty pings the API root.
	PingTable string
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		pingTable:  cfg.PingTable,
	}, nil
}

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client: c,
		table:  table,
	}
}

// QueryBuilder builds PostgREST queries.
type QueryBuilder struct {
	client  *Client
	table   string
	columns string
	filters url.Values
	orders  []string
	limit   int
	offset  int
	count   string // exact, planned, estimated
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Filter adds column=op.value.
func (q *QueryBuilder) Filter(column, op string, value any) *QueryBuilder {
	if q.filters == nil {
		q.filters = url.Values{}
	}
	q.filters.Add(column, fmt.Sprintf("%s.%v", op, value))
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.Filter(column, "eq", value)
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset sets the OFFSET.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Count includes count in response.
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

func (q *QueryBuilder) url(read bool) string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)

	params := url.Values{}
	for k, vs := range q.filters {
		params[k] = append([]string(nil), vs...)
	}
	if read {
		if q.columns != "" {
			params.Set("select", q.columns)
		}
		if len(q.orders) > 0 {
			params.Set("order", strings.Join(q.orders, ","))
		}
		if q.limit > 0 {
			params.Set("limit", strconv.Itoa(q.limit))
		}
		if q.offset > 0 {
			params.Set("offset", strconv.Itoa(q.offset))
		}
	}

	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Execute executes a SELECT query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url(true), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req)
	if q.count != "" {
		req.Header.Set("Prefer", "count="+q.count)
	}

	return q.client.do(req)
}

// ExecuteInsert executes an INSERT operation.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data any) (*Response, error) {
	return q.write(ctx, http.MethodPost, data)
}

// ExecuteUpdate executes an UPDATE operation on the filtered rows.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, data any) (*Response, error) {
	return q.write(ctx, http.MethodPatch, data)
}

// ExecuteDelete executes a DELETE operation on the filtered rows.
func (q *QueryBuilder) ExecuteDelete(ctx context.Context) (*Response, error) {
	return q.write(ctx, http.MethodDelete, nil)
}

func (q *QueryBuilder) write(ctx context.Context, method string, data any) (*Response, error) {
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url(false), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", "return=representation")

	return q.client.do(req)
}

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Total parses the row count from Content-Range ("0-9/100" or "*/0").
// It returns -1 when the server did not report one.
func (r *Response) Total() int {
	cr := r.Headers.Get("Content-Range")
	_, total, ok := strings.Cut(cr, "/")
	if !ok || total == "*" {
		return -1
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return -1
	}
	return n
}

// Err returns a *backend.StatusError if the response indicates failure.
func (r *Response) Err() error {
	if r.StatusCode < http.StatusBadRequest {
		return nil
	}
	root := gjson.ParseBytes(r.Body)
	msg := ""
	for _, path := range []string{"message", "error_description", "error", "msg"} {
		if v := root.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			msg = v.String()
			break
		}
	}
	return &backend.StatusError{
		Status:  r.StatusCode,
		Code:    root.Get("code").String(),
		Message: msg,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}
	if err := out.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Select runs q. Filter values already in operator form ("gt.5",
// "in.(a,b)") are passed through; anything else is an equality match.
func (c *Client) Select(ctx context.Context, q backend.Query) (*backend.Result, error) {
	b := c.From(q.Resource).Select(q.Columns)
	if q.ID != "" {
		b.Eq("id", q.ID)
	}

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := q.Filters[k]
		if op, rest, ok := strings.Cut(v, "."); ok && operators[op] {
			b.Filter(k, op, rest)
			continue
		}
		b.Eq(k, v)
	}

	if q.Order != "" {
		for _, part := range strings.Split(q.Order, ",") {
			column, dir, _ := strings.Cut(part, ".")
			b.Order(column, dir != "desc")
		}
	}
	b.Limit(q.Limit).Offset(q.Offset)
	if q.Count {
		b.Count("exact")
	}

	resp, err := b.Execute(ctx)
	if err != nil {
		return nil, err
	}
	total := -1
	if q.Count {
		total = resp.Total()
	}
	return &backend.Result{Rows: rowsOf(resp.Body), Total: total, Status: resp.StatusCode}, nil
}

var operators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"like": true, "ilike": true, "in": true, "is": true,
}

// Insert creates one row and returns it.
func (c *Client) Insert(ctx context.Context, resource string, record any) (*backend.Result, error) {
	resp, err := c.From(resource).ExecuteInsert(ctx, record)
	if err != nil {
		return nil, err
	}
	return &backend.Result{Rows: rowsOf(resp.Body), Total: -1, Status: resp.StatusCode}, nil
}

// Update patches the row with the given id.
func (c *Client) Update(ctx context.Context, resource, id string, patch any) (*backend.Result, error) {
	resp, err := c.From(resource).Eq("id", id).ExecuteUpdate(ctx, patch)
	if err != nil {
		return nil, err
	}
	return c.affected(resp, resource, id)
}

// Delete removes the row with the given id.
func (c *Client) Delete(ctx context.Context, resource, id string) (*backend.Result, error) {
	resp, err := c.From(resource).Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return nil, err
	}
	return c.affected(resp, resource, id)
}

// affected turns an empty representation into a not-found error.
func (c *Client) affected(resp *Response, resource, id string) (*backend.Result, error) {
	rows := rowsOf(resp.Body)
	if gjson.ParseBytes(rows).Get("#").Int() == 0 {
		return nil, &backend.StatusError{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("%s %s not found", resource, id),
		}
	}
	return &backend.Result{Rows: rows, Total: -1, Status: resp.StatusCode}, nil
}

// Ping reads one row of the ping table, or the API root when none is set.
func (c *Client) Ping(ctx context.Context) error {
	if c.pingTable != "" {
		_, err := c.From(c.pingTable).Select("*").Limit(1).Execute(ctx)
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	_, err = c.do(req)
	return err
}

// rowsOf normalises a PostgREST body to a JSON array.
func rowsOf(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return json.RawMessage("[]")
	case trimmed[0] == '[':
		return json.RawMessage(trimmed)
	default:
		return json.RawMessage("[" + string(trimmed) + "]")
	}
}
