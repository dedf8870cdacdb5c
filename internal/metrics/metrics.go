// Package metrics exposes Prometheus instrumentation for the detection
// pipeline. Each Metrics value owns its registry so tests can construct
// them independently.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homewatcher"

// Metrics bundles the collectors recorded by the service layer.
type Metrics struct {
	registry *prometheus.Registry

	// ReadingsTotal counts ingested readings by engine outcome.
	ReadingsTotal *prometheus.CounterVec

	// ProcessSeconds tracks end-to-end handling latency per reading.
	ProcessSeconds prometheus.Histogram

	// EventChangesTotal counts episode transitions by rule and action.
	EventChangesTotal *prometheus.CounterVec

	// OpenEvents tracks currently open episodes per rule.
	OpenEvents *prometheus.GaugeVec

	// AnomalousTicks counts readings observed while any rule was active.
	AnomalousTicks prometheus.Counter

	// NotificationsTotal counts dispatch attempts by channel and status.
	NotificationsTotal *prometheus.CounterVec

	// WSClients tracks connected live-feed websocket clients.
	WSClients prometheus.Gauge
}

// New builds a Metrics set backed by a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ReadingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Count of ingested readings by engine outcome.",
		}, []string{"outcome"}),
		ProcessSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reading_process_seconds",
			Help:      "Latency of handling one reading end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		EventChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_changes_total",
			Help:      "Count of anomaly episode transitions by rule and action.",
		}, []string{"rule", "action"}),
		OpenEvents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_events",
			Help:      "Currently open anomaly episodes per rule.",
		}, []string{"rule"}),
		AnomalousTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalous_ticks_total",
			Help:      "Count of readings processed while any rule was active.",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of alert dispatch attempts by channel and status.",
		}, []string{"channel", "status"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected live-feed websocket clients.",
		}),
	}
}

// Registry exposes the backing registry for scrape handlers and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
