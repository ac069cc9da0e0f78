// Package http exposes the engine's two surfaces: the gate-facing
// verification API and the command-center dashboard API, plus health and
// metrics endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatewarden/internal/audit"
	"gatewarden/internal/dispatch"
	"gatewarden/internal/provider/local"
	"gatewarden/internal/store"
	"gatewarden/internal/verify"
)

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Deps collects everything the router serves.
type Deps struct {
	Service    *verify.Service
	Index      *local.Index
	Idem       store.IdempotencyStore
	Incidents  store.IncidentStore
	EntryLogs  store.EntryLogStore
	Dispatcher *dispatch.Dispatcher
	Recorder   *audit.Recorder

	GateKeyHash      string
	StreamSecret     string
	SubscriberBuffer int

	Health   map[string]HealthCheck
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// NewRouter builds the chi router with both API surfaces mounted.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMeta)
	r.Use(requestLogger(d.Logger))

	vh := &verifyHandler{service: d.Service, index: d.Index}
	rh := &replayHandler{idem: d.Idem}
	ih := &incidentsHandler{incidents: d.Incidents, recorder: d.Recorder}
	lh := &entryLogsHandler{logs: d.EntryLogs}
	eh := &eventsHandler{dispatcher: d.Dispatcher, buffer: d.SubscriberBuffer, logger: d.Logger}

	// Gate surface.
	r.Group(func(r chi.Router) {
		r.Use(gateAuth(d.GateKeyHash, d.Logger))
		r.Post("/v1/verify", vh.submit)
		r.Get("/v1/verify/{requestID}", rh.get)
	})

	// Dashboard surface.
	r.Group(func(r chi.Router) {
		r.Use(operatorAuth(d.StreamSecret, d.Logger))
		r.Get("/v1/events", eh.stream)
		r.Get("/v1/incidents", ih.list)
		r.Get("/v1/incidents/{incidentID}", ih.get)
		r.Post("/v1/incidents/{incidentID}/acknowledge", ih.acknowledge)
		r.Post("/v1/incidents/{incidentID}/resolve", ih.resolve)
		r.Get("/v1/entry-logs", lh.list)
		r.Get("/v1/entry-logs/stats/today", lh.todayStats)
		r.Get("/v1/entry-logs/{logID}", lh.get)
	})

	r.Get("/healthz", healthHandler(d.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}

func chiURLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
