package opsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityKind tells request and error records apart.
type ActivityKind string

const (
	ActivityRequest ActivityKind = "request"
	ActivityError   ActivityKind = "error"
)

// ActivityEvent is one audit record emitted per dispatched request.
type ActivityEvent struct {
	ID         string        `json:"id"`
	Kind       ActivityKind  `json:"kind"`
	RequestID  string        `json:"request_id,omitempty"`
	Method     Method        `json:"method"`
	Target     string        `json:"target"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration_ns"`
	StatusCode int           `json:"status_code,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ActivitySink persists activity events. Errors are logged and dropped.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to ActivitySink.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	return f(ctx, event)
}

// recordActivity queues the event for req. It never blocks.
func (c *Client) recordActivity(req Request, requestID string, resp *Response, err *APIError, start time.Time, duration time.Duration) {
	if c.activity == nil {
		return
	}

	event := ActivityEvent{
		ID:        uuid.NewString(),
		Kind:      ActivityRequest,
		RequestID: requestID,
		Method:    req.Method,
		Target:    req.Target,
		Timestamp: start,
		Duration:  duration,
	}
	if resp != nil {
		event.StatusCode = resp.StatusCode
		event.Cached = resp.Cached
	}
	if err != nil {
		event.Kind = ActivityError
		event.StatusCode = err.StatusCode
		event.ErrorKind = err.Kind
		event.Error = err.Message
	}
	c.activity.record(event)
}

const activityDeliverTimeout = 5 * time.Second

// activityRecorder delivers events to the sink from a single goroutine.
// A full buffer drops the event rather than slowing the caller down.
type activityRecorder struct {
	sink   ActivitySink
	events chan ActivityEvent
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// mu orders intake against close so no event is buffered after the
	// worker's final drain.
	mu     sync.Mutex
	closed bool

	logger  Logger
	metrics *MetricsCollector
}

func newActivityRecorder(sink ActivitySink, buffer int, logger Logger, metrics *MetricsCollector) *activityRecorder {
	if buffer <= 0 {
		buffer = defaultActivityBuffer
	}
	r := &activityRecorder{
		sink:    sink,
		events:  make(chan ActivityEvent, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
	go r.run()
	return r
}

func (r *activityRecorder) record(event ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.metrics.RecordActivityDropped()
		return
	}
	select {
	case r.events <- event:
	default:
		r.metrics.RecordActivityDropped()
	}
}

func (r *activityRecorder) run() {
	defer close(r.done)
	for {
		select {
		case event := <-r.events:
			r.deliver(event)
		case <-r.quit:
			for {
				select {
				case event := <-r.events:
					r.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (r *activityRecorder) deliver(event ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), activityDeliverTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("Activity sink panicked", "eventID", event.ID, "panic", p)
		}
	}()
	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.Debug("Activity sink failed", "eventID", event.ID, "error", err)
	}
}

// close stops intake and waits for buffered events to be delivered.
func (r *activityRecorder) close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.quit)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoggerSink writes activity events to a Logger at info level.
type LoggerSink struct {
	Logger Logger
}

func (s LoggerSink) Record(_ context.Context, event ActivityEvent) error {
	kv := []any{
		"id", event.ID,
		"kind", event.Kind,
		"method", event.Method,
		"target", event.Target,
		"status", event.StatusCode,
		"duration", event.Duration,
		"cached", event.Cached,
	}
	if event.Error != "" {
		kv = append(kv, "errorKind", event.ErrorKind, "error", event.Error)
	}
	s.Logger.Info("activity", kv...)
	return nil
}

// DefaultActivityResource is the table activity rows are written to.
const DefaultActivityResource = "activity_logs"

// DataBackendSink inserts activity events as rows through a DataBackend.
// It talks to the backend directly, so its writes are not themselves
// recorded, cached or rate limited.
type DataBackendSink struct {
	Backend  DataBackend
	Resource string
}

func (s DataBackendSink) Record(ctx context.Context, event ActivityEvent) error {
	resource := s.Resource
	if resource == "" {
		resource = DefaultActivityResource
	}
	row := map[string]any{
		"id":          event.ID,
		"action":      fmt.Sprintf("%s %s", event.Method, event.Target),
		"kind":        string(event.Kind),
		"method":      string(event.Method),
		"target":      event.Target,
		"status_code": event.StatusCode,
		"duration_ms": event.Duration.Milliseconds(),
		"cached":      event.Cached,
		"created_at":  event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if event.RequestID != "" {
		row["request_id"] = event.RequestID
	}
	if event.Error != "" {
		row["error"] = event.Error
		row["error_kind"] = string(event.ErrorKind)
	}
	_, err := s.Backend.Insert(ctx, resource, row)
	return err
}

// MultiSink fans events out to several sinks.
type MultiSink []ActivitySink

func (m MultiSink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
