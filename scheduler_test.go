package opsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestSchedulerPriorityOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	gateEntered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/gate" {
			close(gateEntered)
			<-release
		}
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithoutCache(), WithoutRateLimit())
	defer client.Close(context.Background())
	ctx := context.Background()

	gate := client.Enqueue(ctx, NewRequest(MethodGet, "/gate"))
	<-gateEntered

	if state := client.Scheduler().State(); state != SchedulerDraining {
		t.Errorf("State() while gate runs = %s, want draining", state)
	}

	var futures []*Future
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical, PriorityLow} {
		futures = append(futures, client.Enqueue(ctx, NewRequest(MethodGet, "/"+string(p)).WithPriority(p)))
	}
	if n := client.Scheduler().Pending(); n != 5 {
		t.Errorf("Pending() = %d, want 5", n)
	}
	if n := client.Scheduler().Len(PriorityLow); n != 2 {
		t.Errorf("Len(low) = %d, want 2", n)
	}

	close(release)
	if _, err := gate.Wait(ctx); err != nil {
		t.Fatalf("gate: %v", err)
	}
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("queued request: %v", err)
		}
	}

	want := []string{"/gate", "/critical", "/high", "/normal", "/low", "/low"}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, want) {
		t.Errorf("execution order = %v, want %v", order, want)
	}
}

func TestSchedulerAwaitDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"name":"widget"}}`)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	defer client.Close(context.Background())

	type product struct {
		Name string `json:"name"`
	}
	env, err := Await[product](context.Background(), client.Enqueue(context.Background(), NewRequest(MethodGet, "/p/1")))
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if env.Data.Name != "widget" {
		t.Errorf("Data.Name = %q", env.Data.Name)
	}
}

func TestSchedulerCloseRejectsQueued(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gate" {
			close(entered)
			<-release
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithoutCache())
	ctx := context.Background()

	gate := client.Enqueue(ctx, NewRequest(MethodGet, "/gate"))
	<-entered
	queued := client.Enqueue(ctx, NewRequest(MethodGet, "/queued"))

	closed := make(chan error, 1)
	go func() { closed <- client.Close(ctx) }()

	if _, err := queued.Wait(ctx); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("queued request error = %v, want ErrSchedulerClosed", err)
	}

	close(release)
	if _, err := gate.Wait(ctx); err != nil {
		t.Errorf("in-flight request should complete: %v", err)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close: %v", err)
	}

	late := client.Enqueue(ctx, NewRequest(MethodGet, "/late"))
	if _, err := late.Wait(ctx); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("enqueue after close = %v, want ErrSchedulerClosed", err)
	}
	if err := client.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSchedulerSkipsCancelledRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var hits sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		if r.URL.Path == "/gate" {
			close(entered)
			<-release
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithoutCache())
	defer client.Close(context.Background())

	client.Enqueue(context.Background(), NewRequest(MethodGet, "/gate"))
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	f := client.Enqueue(ctx, NewRequest(MethodGet, "/cancelled"))
	cancel()
	close(release)

	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if _, err := f.Wait(waitCtx); err == nil {
		t.Fatal("cancelled request should be rejected")
	}
	if _, ok := hits.Load("/cancelled"); ok {
		t.Error("cancelled request must not be executed")
	}
}

func TestSchedulerStateString(t *testing.T) {
	for state, want := range map[SchedulerState]string{
		SchedulerIdle:      "idle",
		SchedulerDraining:  "draining",
		SchedulerWaiting:   "waiting",
		SchedulerState(42): "SchedulerState(42)",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(state), got, want)
		}
	}
}
