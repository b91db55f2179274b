// Package httptransport assembles the top-level router: liveness, metrics and
// the versioned API surface.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"manifest-gateway/internal/transport/http/shared"
)

// Registrar is anything that mounts routes on a chi router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewRouter wires the public surface: /health, /metrics and the v1 API.
func NewRouter(checks []HealthCheck, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		for _, h := range handlers {
			h.Register(api)
		}
	})

	return r
}

func handleHealth(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				deps[check.Name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[check.Name] = "ok"
		}
		shared.WriteJSON(w, status, map[string]any{
			"status":       http.StatusText(status),
			"dependencies": deps,
		})
	}
}
