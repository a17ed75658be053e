package opsclient

import (
	"context"
	"strconv"
)

// GetPaginated reads one page of target. Data targets are translated to
// limit/offset with an exact count; HTTP targets receive page and limit
// query parameters and report the total in their body. page is 1-based.
func (c *Client) GetPaginated(ctx context.Context, target string, page, pageSize int, query map[string]string) (*Response, error) {
	req := NewRequest(MethodGet, target).WithQuery(query)
	if page < 1 || pageSize < 1 {
		return nil, c.reject(req, validationError("page and pageSize must be positive, got %d and %d", page, pageSize))
	}

	if req.Transport.Kind == TransportData {
		req = req.WithQuery(map[string]string{
			queryKeyLimit:  strconv.Itoa(pageSize),
			queryKeyOffset: strconv.Itoa((page - 1) * pageSize),
			queryKeyCount:  "exact",
		})
	} else {
		req = req.WithQuery(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(pageSize),
		})
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	total := -1
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	out := *resp
	out.Pagination = &Pagination{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  total >= 0 && page*pageSize < total,
	}
	return &out, nil
}

// GetPage is GetPaginated decoding the rows into T.
func GetPage[T any](ctx context.Context, c *Client, target string, page, pageSize int, query map[string]string) (*Envelope[T], error) {
	resp, err := c.GetPaginated(ctx, target, page, pageSize, query)
	if err != nil {
		return nil, err
	}
	return Decode[T](resp)
}
