package opsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindClient      ErrorKind = "client_error"
	KindServer      ErrorKind = "server_error"
	KindValidation  ErrorKind = "validation"
	KindUnknown     ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// Sentinel errors for common failure scenarios
var (
	// ErrRateLimited is returned when the local limiter rejects a request
	ErrRateLimited = errors.New("opsclient: rate limited")

	// ErrValidation is returned for invalid input such as an oversized upload
	ErrValidation = errors.New("opsclient: validation failed")

	// ErrTimeout is returned when an attempt exceeds its deadline
	ErrTimeout = errors.New("opsclient: timeout")

	// ErrNetwork is returned for transport level failures
	ErrNetwork = errors.New("opsclient: network error")

	// ErrSchedulerClosed is returned for queued requests rejected by shutdown
	ErrSchedulerClosed = errors.New("opsclient: scheduler closed")

	// ErrNotConfigured is returned when a target needs a backend the client was built without
	ErrNotConfigured = errors.New("opsclient: backend not configured")
)

var kindSentinels = map[ErrorKind]error{
	KindRateLimited: ErrRateLimited,
	KindValidation:  ErrValidation,
	KindTimeout:     ErrTimeout,
	KindNetwork:     ErrNetwork,
}

// APIError is the classified failure every client operation returns.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error

	RequestID  string
	Method     Method
	Target     string
	Endpoint   string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

func newAPIError(kind ErrorKind, message string, cause error) *APIError {
	return &APIError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func validationError(format string, args ...any) *APIError {
	return newAPIError(KindValidation, fmt.Sprintf(format, args...), nil)
}

// Error implements error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries+1)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *APIError of the same kind or the sentinel of e's kind.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*APIError); ok {
		return e.Kind == other.Kind
	}
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return target == sentinel
	}
	return false
}

// Retryable reports whether the dispatcher may attempt the request again.
func (e *APIError) Retryable() bool {
	return e != nil && e.Kind.Retryable()
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *APIError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.Target != "" {
		info += fmt.Sprintf("Target: %s\n", e.Target)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries+1)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsRetryable reports whether err is a retryable *APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// statusCarrier is implemented by backend errors that map onto an HTTP status.
type statusCarrier interface {
	HTTPStatus() int
}

// classify maps any error produced by a transport onto an *APIError.
func classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(KindTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return newAPIError(KindUnknown, "request canceled", err)
	}

	var sc statusCarrier
	if errors.As(err, &sc) {
		e := errorFromStatus(sc.HTTPStatus(), nil)
		var se *StatusError
		if errors.As(err, &se) && se.Message != "" {
			e.Message = se.Message
		}
		e.Cause = err
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newAPIError(KindTimeout, "request timed out", err)
		}
		return newAPIError(KindNetwork, "network failure", err)
	}

	if errors.Is(err, ErrNotConfigured) {
		return newAPIError(KindUnknown, "backend not configured", err)
	}

	return newAPIError(KindUnknown, err.Error(), err)
}

// errorFromStatus builds the error for a non-2xx response, pulling the
// human-readable message out of a JSON body when there is one.
func errorFromStatus(status int, body []byte) *APIError {
	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 400 && status < 500:
		kind = KindClient
	case status >= 500:
		kind = KindServer
	}

	message := http.StatusText(status)
	if len(body) > 0 && gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error.message", "error", "msg", "error_description"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
				message = r.Str
				break
			}
		}
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}

	e := newAPIError(kind, message, nil)
	e.StatusCode = status
	return e
}
