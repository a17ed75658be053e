// Package backend holds the value types exchanged between the dispatcher and
// the data backend / object store implementations.
package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Query describes a read against a named resource.
type Query struct {
	Resource string
	ID       string
	Columns  string
	Filters  map[string]string
	// Order is "column" or "column.asc" / "column.desc".
	Order  string
	Limit  int
	Offset int
	// Count requests the total number of matching rows.
	Count bool
}

// Result is the outcome of a data backend operation. Rows is always a JSON
// array. Total is -1 unless a count was requested.
type Result struct {
	Rows   json.RawMessage
	Total  int
	Status int
}

// Object is a blob stored in, or read from, an object store.
type Object struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"content,omitempty"`
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag,omitempty"`
	URL         string `json:"url,omitempty"`
}

// StatusError is returned by backends for failures that map onto an HTTP
// status, so the dispatcher can classify them uniformly.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("status %d: %s: %v", e.Status, msg, e.Err)
	}
	return fmt.Sprintf("status %d: %s", e.Status, msg)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus reports the HTTP status the failure corresponds to.
func (e *StatusError) HTTPStatus() int { return e.Status }
