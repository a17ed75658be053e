package opsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

func (c *Client) doHTTP(ctx context.Context, p *preparedRequest) (*Response, error) {
	var body io.Reader
	if p.payload != nil {
		body = bytes.NewReader(p.payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(p.Method), p.url, body)
	if err != nil {
		return nil, validationError("build request: %v", err)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	if p.contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", p.contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, errorFromStatus(resp.StatusCode, data)
	}
	return parseHTTPResponse(resp.StatusCode, data), nil
}

// parseHTTPResponse turns a 2xx body into an envelope. Bodies that already
// are envelopes keep their success flag and message; any other JSON becomes
// the data payload and non-JSON text is carried as a JSON string.
func parseHTTPResponse(status int, data []byte) *Response {
	out := &Response{Success: true, StatusCode: status}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return out
	}
	if !gjson.ValidBytes(trimmed) {
		quoted, _ := json.Marshal(string(trimmed))
		out.Data = quoted
		return out
	}

	root := gjson.ParseBytes(trimmed)
	if root.IsObject() {
		if s := root.Get("success"); s.Type == gjson.True || s.Type == gjson.False {
			var env Response
			if err := json.Unmarshal(trimmed, &env); err == nil {
				env.StatusCode = status
				return &env
			}
		}
	}

	out.Data = json.RawMessage(trimmed)
	out.Pagination = paginationFromBody(root)
	return out
}

// paginationFromBody picks up list totals reported outside an envelope.
func paginationFromBody(root gjson.Result) *Pagination {
	if !root.IsObject() {
		return nil
	}
	for _, path := range []string{"pagination.total", "meta.total", "total", "count"} {
		if r := root.Get(path); r.Type == gjson.Number {
			p := &Pagination{Total: int(r.Int())}
			if page := root.Get("pagination.page"); page.Type == gjson.Number {
				p.Page = int(page.Int())
			}
			return p
		}
	}
	return nil
}
