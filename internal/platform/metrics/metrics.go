package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the verification engine.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	IncidentsCreated prometheus.Counter
	IncidentsMerged  prometheus.Counter
	EventsPublished  prometheus.Counter
	EventsDropped    prometheus.Counter
	Subscribers      prometheus.Gauge
	AuditFailures    prometheus.Counter
	PendingAudit     prometheus.Gauge
	PendingEntryLogs prometheus.Gauge
	WatchlistVersion prometheus.Gauge
	WatchlistSize    prometheus.Gauge
}

// New creates and registers all engine metrics with the given registerer.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewarden_decisions_total",
			Help: "Entry decisions by outcome.",
		}, []string{"decision"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewarden_provider_requests_total",
			Help: "Embedding provider calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatewarden_provider_latency_seconds",
			Help:    "Embedding provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		IncidentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatewarden_incidents_created_total",
			Help: "New incidents opened by the correlator.",
		}),
		IncidentsMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatewarden_incidents_merged_total",
			Help: "Watchlist hits merged into an open incident inside the cooldown window.",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatewarden_events_published_total",
			Help: "Events published to the dashboard stream.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatewarden_events_dropped_total",
			Help: "Events dropped across all subscriber buffers.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_stream_subscribers",
			Help: "Currently connected dashboard subscribers.",
		}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatewarden_audit_write_failures_total",
			Help: "Audit record writes that failed and raised an alarm.",
		}),
		PendingAudit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_pending_audit_records",
			Help: "Records waiting in the audit retry queue.",
		}),
		PendingEntryLogs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_pending_entry_logs",
			Help: "Entry logs waiting in the append retry queue.",
		}),
		WatchlistVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_watchlist_snapshot_version",
			Help: "Version of the active watchlist snapshot.",
		}),
		WatchlistSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_watchlist_snapshot_entries",
			Help: "Active entries in the current watchlist snapshot.",
		}),
	}
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(op, outcome string, elapsed time.Duration) {
	m.ProviderRequests.WithLabelValues(op, outcome).Inc()
	m.ProviderLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}
