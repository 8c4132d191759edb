package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthChecker is implemented by the InfluxDB client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter mounts the push handler at POST /pubsub/push, a health probe at
// GET /health and, when metricsHandler is non-nil, GET /metrics.
func NewRouter(push http.Handler, health HealthChecker, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/pubsub/push", push.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health.HealthCheck(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	return r
}
