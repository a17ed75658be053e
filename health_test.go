package opsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type panickingStore struct{ fakeStore }

func (p *panickingStore) Ping(context.Context) error { panic("store exploded") }

type slowData struct{ fakeData }

func (s *slowData) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthCheckAllHealthy(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer up.Close()

	client := New(
		WithDataBackend(&fakeData{}),
		WithObjectStore(newFakeStore()),
		WithExternalServices(up.URL),
		WithMetrics(),
	)
	defer client.Close(context.Background())

	report := client.HealthCheck(context.Background())
	if !report.Healthy() {
		t.Fatalf("report = %+v", report)
	}
	for _, name := range []string{CheckDatabase, CheckStorage, CheckCache, CheckExternalServices} {
		if report.Checks[name].Status != HealthStatusHealthy {
			t.Errorf("%s = %+v", name, report.Checks[name])
		}
	}
	if client.Cache().Len() != 0 {
		t.Error("the cache probe must not leave its sentinel entry behind")
	}
	if v := testutil.ToFloat64(client.Metrics().healthStatus.WithLabelValues(CheckDatabase)); v != 1 {
		t.Errorf("health gauge = %v, want 1", v)
	}
}

func TestHealthCheckSkipsUnconfigured(t *testing.T) {
	client := New(WithoutCache())
	defer client.Close(context.Background())

	report := client.HealthCheck(context.Background())
	if !report.Healthy() {
		t.Errorf("skipped checks do not make the report unhealthy: %+v", report)
	}
	for name, result := range report.Checks {
		if result.Status != HealthStatusSkipped {
			t.Errorf("%s = %s, want skipped", name, result.Status)
		}
	}
}

func TestHealthCheckFailures(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	client := New(
		WithDataBackend(&fakeData{pingErr: errors.New("connection refused")}),
		WithObjectStore(&panickingStore{}),
		WithExternalServices(down.URL),
	)
	defer client.Close(context.Background())

	report := client.HealthCheck(context.Background())
	if report.Healthy() {
		t.Fatal("expected unhealthy report")
	}
	if db := report.Checks[CheckDatabase]; db.Status != HealthStatusUnhealthy || db.Message != "connection refused" {
		t.Errorf("database = %+v", db)
	}
	if st := report.Checks[CheckStorage]; st.Status != HealthStatusUnhealthy || !strings.Contains(st.Message, "store exploded") {
		t.Errorf("storage = %+v", st)
	}
	ext := report.Checks[CheckExternalServices]
	if ext.Status != HealthStatusUnhealthy || ext.Details[down.URL] != "status 502" {
		t.Errorf("externalServices = %+v", ext)
	}
	if report.Checks[CheckCache].Status != HealthStatusHealthy {
		t.Error("one failing probe must not affect the others")
	}
}

func TestHealthCheckTimeout(t *testing.T) {
	client := New(WithDataBackend(&slowData{}), WithHealthTimeout(20*time.Millisecond))
	defer client.Close(context.Background())

	start := time.Now()
	report := client.HealthCheck(context.Background())
	if time.Since(start) > time.Second {
		t.Error("probe timeout was not applied")
	}
	if report.Checks[CheckDatabase].Status != HealthStatusUnhealthy {
		t.Errorf("database = %+v", report.Checks[CheckDatabase])
	}
}

func TestCheckResultJSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Status: HealthStatusHealthy, ResponseTime: 1500 * time.Microsecond})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["status"] != "healthy" || out["responseTimeMs"] != 1.5 {
		t.Errorf("json = %s", data)
	}
}
