package api

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds all component checks of one health request.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/rediscover", s.handleRediscoverAll)

		// Monitored devices
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/objects", s.handleListObjects)
				r.Post("/rediscover", s.handleRediscoverDevice)
			})
		})

		// Recorded inventory, including devices no longer monitored
		r.Get("/inventory/devices", s.handleListInventory)

		// Session and operator command journal
		r.Get("/audit", s.handleListAudit)
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	DevicesTotal int               `json:"devices_total"`
	DevicesReady int               `json:"devices_ready"`
	Checks       map[string]string `json:"checks,omitempty"`
}

// handleHealth reports "ok" when every device has a live session and every
// component check passes. A failing component answers 503; devices still
// connecting only degrade the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.monitors.Statuses()
	resp := HealthResponse{Status: "ok", Version: s.version, DevicesTotal: len(statuses)}
	for _, st := range statuses {
		if st.Ready() {
			resp.DevicesReady++
		}
	}
	if resp.DevicesReady < resp.DevicesTotal {
		resp.Status = "degraded"
	}

	code := http.StatusOK
	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.checks))
		for _, name := range slices.Sorted(maps.Keys(s.checks)) {
			if err := s.checks[name].HealthCheck(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, code, resp)
}
