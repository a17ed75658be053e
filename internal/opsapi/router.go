// Package opsapi exposes a client's health, metrics, rate-limit budget and
// scheduler state over HTTP for operators.
package opsapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambiyansyah-risyal/opsclient"
)

// Server serves the operations endpoints of one client.
type Server struct {
	client *opsclient.Client
	logger opsclient.Logger
}

// NewRouter returns a router with every operations endpoint registered.
func NewRouter(client *opsclient.Client) *mux.Router {
	s := &Server{client: client, logger: client.Logger()}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ratelimit", s.handleRateLimit).Methods(http.MethodGet)
	r.HandleFunc("/scheduler", s.handleScheduler).Methods(http.MethodGet)
	r.HandleFunc("/cache", s.handleClearCache).Methods(http.MethodDelete)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	if m := client.Metrics(); m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.client.HealthCheck(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		jsonError(w, "target required", http.StatusBadRequest)
		return
	}

	info := s.client.RateLimitInfo(target)
	resp := map[string]any{
		"endpoint":  opsclient.EndpointKey(target),
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetAt.IsZero() {
		resp["resetAt"] = info.ResetAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	sched := s.client.Scheduler()
	queues := make(map[string]int, len(opsclient.Priorities))
	for _, p := range opsclient.Priorities {
		queues[string(p)] = sched.Len(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   sched.State().String(),
		"pending": sched.Pending(),
		"queues":  queues,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.client.ClearCache()
	s.logger.Info("Response cache cleared", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, opsclient.GetVersionInfo())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("ops request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
