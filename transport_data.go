package opsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// Query keys with a meaning of their own; every other key is an equality filter.
const (
	queryKeySelect = "select"
	queryKeyOrder  = "order"
	queryKeyLimit  = "limit"
	queryKeyOffset = "offset"
	queryKeyCount  = "count"
)

// doData translates the request into a CRUD call on the data backend.
func (c *Client) doData(ctx context.Context, p *preparedRequest) (*Response, error) {
	if c.data == nil {
		return nil, notConfigured("data backend", p.Target)
	}
	t := p.Transport

	var (
		res *DataResult
		err error
	)
	switch p.Method {
	case MethodGet:
		q := dataQueryFrom(t, p.Query)
		res, err = c.data.Select(ctx, q)
		if err != nil {
			return nil, err
		}
		resp := dataResponse(res)
		if q.Count && res.Total >= 0 {
			resp.Pagination = &Pagination{Total: res.Total}
		}
		return resp, nil
	case MethodPost:
		res, err = c.data.Insert(ctx, t.Resource, recordBody(p.Body))
	case MethodPut, MethodPatch:
		res, err = c.data.Update(ctx, t.Resource, t.ID, recordBody(p.Body))
	case MethodDelete:
		res, err = c.data.Delete(ctx, t.Resource, t.ID)
	default:
		return nil, validationError("unsupported method %q", p.Method)
	}
	if err != nil {
		return nil, err
	}
	return dataResponse(res), nil
}

func dataQueryFrom(t Transport, query map[string]string) DataQuery {
	q := DataQuery{Resource: t.Resource, ID: t.ID}
	for k, v := range query {
		switch k {
		case queryKeySelect:
			q.Columns = v
		case queryKeyOrder:
			q.Order = v
		case queryKeyLimit:
			q.Limit, _ = strconv.Atoi(v)
		case queryKeyOffset:
			q.Offset, _ = strconv.Atoi(v)
		case queryKeyCount:
			q.Count = v != "" && v != "false"
		default:
			if q.Filters == nil {
				q.Filters = make(map[string]string, len(query))
			}
			q.Filters[k] = v
		}
	}
	return q
}

func dataResponse(res *DataResult) *Response {
	status := http.StatusOK
	rows := json.RawMessage("[]")
	if res != nil {
		if res.Status != 0 {
			status = res.Status
		}
		if len(res.Rows) > 0 {
			rows = res.Rows
		}
	}
	return &Response{Success: true, Data: rows, StatusCode: status}
}

// recordBody passes pre-encoded JSON through untouched.
func recordBody(body any) any {
	switch b := body.(type) {
	case []byte:
		return json.RawMessage(b)
	case RawBody:
		return json.RawMessage(b.Data)
	case *RawBody:
		if b != nil {
			return json.RawMessage(b.Data)
		}
	case string:
		if json.Valid([]byte(b)) {
			return json.RawMessage(b)
		}
	}
	return body
}
