package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

// Metrics holds the collectors exported by the server and the client view.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent  *prometheus.CounterVec
	StatusUpdates *prometheus.CounterVec
	Retractions   *prometheus.CounterVec
	WSConnections prometheus.Gauge
	EventsDropped prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roamchat",
			Name:      "messages_sent_total",
			Help:      "Message sends by outcome.",
		}, []string{"outcome"}),
		StatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roamchat",
			Name:      "message_status_updates_total",
			Help:      "Delivered/read transitions applied.",
		}, []string{"status"}),
		Retractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roamchat",
			Name:      "message_retractions_total",
			Help:      "Retraction attempts by outcome.",
		}, []string{"outcome"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roamchat",
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roamchat",
			Name:      "events_dropped_total",
			Help:      "Events not delivered to slow subscribers.",
		}),
	}

	reg.MustRegister(
		m.MessagesSent,
		m.StatusUpdates,
		m.Retractions,
		m.WSConnections,
		m.EventsDropped,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The helpers below accept a nil receiver so components can run without metrics.

// MessageSent counts a send outcome.
func (m *Metrics) MessageSent(outcome string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(outcome).Inc()
	}
}

// StatusUpdated counts an applied status transition.
func (m *Metrics) StatusUpdated(status string) {
	if m != nil {
		m.StatusUpdates.WithLabelValues(status).Inc()
	}
}

// Retracted counts a retraction outcome.
func (m *Metrics) Retracted(outcome string) {
	if m != nil {
		m.Retractions.WithLabelValues(outcome).Inc()
	}
}

// ConnOpened tracks a new websocket connection.
func (m *Metrics) ConnOpened() {
	if m != nil {
		m.WSConnections.Inc()
	}
}

// ConnClosed tracks a closed websocket connection.
func (m *Metrics) ConnClosed() {
	if m != nil {
		m.WSConnections.Dec()
	}
}

// EventDropped counts an event lost to a slow subscriber.
func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}
