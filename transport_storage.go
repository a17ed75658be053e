package opsclient

import (
	"context"
	"encoding/json"
	"net/http"
)

func (c *Client) doStorage(ctx context.Context, p *preparedRequest) (*Response, error) {
	if c.storage == nil {
		return nil, notConfigured("object store", p.Target)
	}
	t := p.Transport

	var (
		payload any
		status  = http.StatusOK
	)
	switch p.Method {
	case MethodGet:
		obj, err := c.storage.Get(ctx, t.Bucket, t.Key)
		if err != nil {
			return nil, err
		}
		payload = obj
	case MethodPost, MethodPut:
		info, err := c.storage.Put(ctx, Object{
			Bucket:      t.Bucket,
			Key:         t.Key,
			ContentType: p.contentType,
			Data:        p.payload,
		})
		if err != nil {
			return nil, err
		}
		payload = info
		status = http.StatusCreated
	case MethodDelete:
		if err := c.storage.Delete(ctx, t.Bucket, t.Key); err != nil {
			return nil, err
		}
		payload = map[string]any{"bucket": t.Bucket, "key": t.Key, "deleted": true}
	default:
		return nil, validationError("unsupported method %q for storage", p.Method)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, newAPIError(KindUnknown, "encode storage response", err)
	}
	return &Response{Success: true, Data: data, StatusCode: status}, nil
}
