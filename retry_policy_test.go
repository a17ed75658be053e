package opsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	const (
		maxRetries = 3
		base       = 10 * time.Millisecond
	)
	client := New(WithBaseURL(server.URL), WithMaxRetries(maxRetries), WithBaseDelay(base), WithoutCache())
	defer client.Close(context.Background())

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	client.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	_, err := client.Get(context.Background(), "/unavailable", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != KindServer || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("got kind %s status %d", apiErr.Kind, apiErr.StatusCode)
	}
	if apiErr.Attempt != maxRetries+1 || apiErr.MaxRetries != maxRetries {
		t.Errorf("Attempt/MaxRetries = %d/%d", apiErr.Attempt, apiErr.MaxRetries)
	}
	if got := attempts.Load(); got != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", got, maxRetries+1)
	}

	if len(delays) != maxRetries {
		t.Fatalf("slept %d times, want %d", len(delays), maxRetries)
	}
	for i, d := range delays {
		floor := base << uint(i)
		if d < floor {
			t.Errorf("delay %d = %v, want >= %v", i+1, d, floor)
		}
		if d >= floor+time.Second {
			t.Errorf("delay %d = %v exceeds the jitter bound", i+1, d)
		}
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"name is required"}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMaxRetries(5))
	defer client.Close(context.Background())
	client.sleep = noSleep

	_, err := client.Post(context.Background(), "/users", map[string]string{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != KindClient {
		t.Errorf("Kind = %s, want %s", apiErr.Kind, KindClient)
	}
	if apiErr.Message != "name is required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if attempts.Load() != 1 {
		t.Errorf("client errors must not be retried, attempts = %d", attempts.Load())
	}
}

func TestRetryRecoversAndPerRequestOverride(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithoutCache())
	defer client.Close(context.Background())
	client.sleep = noSleep

	if _, err := client.Get(context.Background(), "/flaky", nil); err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}

	attempts.Store(0)
	_, err := client.Do(context.Background(), NewRequest(MethodGet, "/flaky").WithMaxRetries(0))
	if err == nil {
		t.Fatal("expected failure with retries disabled")
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithMaxRetries(10), WithoutCache())
	defer client.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	var sleeps atomic.Int32
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps.Add(1)
		cancel()
		return ctx.Err()
	}

	if _, err := client.Get(ctx, "/boom", nil); err == nil {
		t.Fatal("expected error")
	}
	if sleeps.Load() != 1 {
		t.Errorf("the loop should stop at the first cancelled wait, sleeps = %d", sleeps.Load())
	}
}

func TestAttemptTimeoutIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithTimeout(50*time.Millisecond), WithoutCache())
	defer client.Close(context.Background())
	client.sleep = noSleep

	if _, err := client.Get(context.Background(), "/slow-once", nil); err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := NewRetryPolicyWithJitter(0, nil)
	server := errorFromStatus(http.StatusInternalServerError, nil)

	if !policy.ShouldRetry(server, 1, 3) {
		t.Error("5xx should be retried while attempts remain")
	}
	if policy.ShouldRetry(server, 4, 3) {
		t.Error("no retry once attempt exceeds maxRetries")
	}
	if policy.ShouldRetry(validationError("bad"), 1, 3) {
		t.Error("validation errors are never retried")
	}
	if policy.ShouldRetry(nil, 1, 3) {
		t.Error("nil error is not retried")
	}

	for attempt, want := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond} {
		if got := policy.DelayFor(attempt, 100*time.Millisecond); got != want {
			t.Errorf("DelayFor(%d) = %v, want %v", attempt, got, want)
		}
	}

	fixed := NewRetryPolicyWithJitter(time.Second, func() float64 { return 0.5 })
	if got := fixed.DelayFor(1, time.Second); got != 1500*time.Millisecond {
		t.Errorf("DelayFor with jitter = %v, want 1.5s", got)
	}
}
