package opsclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerState is the observable state of the scheduler worker.
type SchedulerState int32

const (
	// SchedulerIdle means no request is in flight and the queues are about to be checked.
	SchedulerIdle SchedulerState = iota
	// SchedulerDraining means exactly one dequeued request is executing.
	SchedulerDraining
	// SchedulerWaiting means every queue was empty and the worker is blocked until woken.
	SchedulerWaiting
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerDraining:
		return "draining"
	case SchedulerWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("SchedulerState(%d)", int32(s))
	}
}

// Future is the pending result of a scheduled request.
type Future struct {
	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(resp *Response, err error) {
	f.once.Do(func() {
		f.resp = resp
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the request settles or ctx ends. Abandoning the wait
// does not cancel the request; cancel the context passed to Enqueue for that.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits for f and decodes the payload into T.
func Await[T any](ctx context.Context, f *Future) (*Envelope[T], error) {
	resp, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return Decode[T](resp)
}

type scheduledJob struct {
	ctx      context.Context
	req      Request
	future   *Future
	enqueued time.Time
}

// Scheduler executes queued requests one at a time, always taking the
// oldest request of the highest non-empty priority.
type Scheduler struct {
	mu      sync.Mutex
	queues  [4][]*scheduledJob
	closed  bool
	started bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	state atomic.Int32

	exec    func(context.Context, Request) (*Response, error)
	metrics *MetricsCollector
	logger  Logger
}

func newScheduler(exec func(context.Context, Request) (*Response, error), metrics *MetricsCollector, logger Logger) *Scheduler {
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		exec:    exec,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

// Enqueue adds req at req.Priority. After Close the future is rejected
// immediately with ErrSchedulerClosed.
func (s *Scheduler) Enqueue(ctx context.Context, req Request) *Future {
	f := newFuture()
	job := &scheduledJob{ctx: ctx, req: req, future: f, enqueued: time.Now()}
	idx := req.Priority.index()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.resolve(nil, ErrSchedulerClosed)
		return f
	}
	s.queues[idx] = append(s.queues[idx], job)
	depth := len(s.queues[idx])
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(Priorities[idx], depth)

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return f
}

// State reports what the worker is doing.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Len returns the number of queued requests at priority p.
func (s *Scheduler) Len(p Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[p.index()])
}

// Pending returns the total number of queued requests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

func (s *Scheduler) next() *scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx := range s.queues {
		if len(s.queues[idx]) == 0 {
			continue
		}
		job := s.queues[idx][0]
		s.queues[idx][0] = nil
		s.queues[idx] = s.queues[idx][1:]
		s.metrics.RecordQueueDepth(Priorities[idx], len(s.queues[idx]))
		return job
	}
	return nil
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		job := s.next()
		if job == nil {
			s.state.Store(int32(SchedulerWaiting))
			select {
			case <-s.wake:
				s.state.Store(int32(SchedulerIdle))
				continue
			case <-s.quit:
				s.state.Store(int32(SchedulerIdle))
				return
			}
		}

		s.state.Store(int32(SchedulerDraining))
		s.runJob(job)
		s.state.Store(int32(SchedulerIdle))

		select {
		case <-s.quit:
			return
		default:
		}
	}
}

// runJob executes one request. A context cancelled while queued rejects the
// future without executing; a panic rejects it without stopping the loop.
func (s *Scheduler) runJob(job *scheduledJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled request panicked", "target", job.req.Target, "panic", r)
			job.future.resolve(nil, newAPIError(KindUnknown, fmt.Sprintf("panic: %v", r), nil))
		}
	}()

	if err := job.ctx.Err(); err != nil {
		job.future.resolve(nil, classify(err))
		return
	}

	resp, err := s.exec(job.ctx, job.req)
	job.future.resolve(resp, err)
}

// Close stops accepting work, rejects everything still queued with
// ErrSchedulerClosed and waits for the in-flight request, if any, to settle.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	var pending []*scheduledJob
	for idx := range s.queues {
		pending = append(pending, s.queues[idx]...)
		s.queues[idx] = nil
	}
	s.mu.Unlock()

	for _, job := range pending {
		job.future.resolve(nil, ErrSchedulerClosed)
	}
	for _, p := range Priorities {
		s.metrics.RecordQueueDepth(p, 0)
	}

	close(s.quit)
	if !started {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
