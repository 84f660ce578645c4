// Package ops exposes the bastion's operator-facing HTTP surface: a
// liveness probe and a small metrics endpoint, built on the same
// go-chi/chi/v5 middleware stack the rest of the codebase uses.
package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Metrics is a read-only snapshot of counters the bastion tracks, sampled
// on each /metrics request.
type Metrics interface {
	Snapshot() MetricsSnapshot
}

// MetricsSnapshot is the JSON body served at /metrics.
type MetricsSnapshot struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	AuthFailures      int64 `json:"auth_failures"`
	BridgedSessions   int64 `json:"bridged_sessions"`
}

// NewRouter builds the operator HTTP surface: /healthz always returns 200
// once the server is constructed, /metrics reports the given Metrics.
func NewRouter(m Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})

	return r
}

// Serve builds, but does not start, an HTTP server for handler on addr; the
// caller runs it with ListenAndServe and stops it with Shutdown.
func Serve(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
