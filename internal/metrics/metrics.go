// Package metrics registers the prometheus.Registerer-backed counters
// and gauges the gatekeeper exposes, grounded on the
// DispatcherMetrics/MarkerMetrics construction pattern of the teacher's
// dispatch.NewDispatcherMetrics: one struct, built once against a
// Registerer, threaded into the components that mutate it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the gatekeeper exposes.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	Grants          *prometheus.CounterVec
	Revokes         *prometheus.CounterVec
	DenialRate      *prometheus.GaugeVec
	CircuitOpen     *prometheus.GaugeVec
	QueueSize       prometheus.Gauge
}

// New registers every metric against r and returns the bundle.
func New(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "events_processed_total",
			Help:      "Total number of events successfully processed, by event name.",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped due to processing errors, by event name.",
		}, []string{"event"}),
		Grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "grants_total",
			Help:      "Total number of access_granted transitions, by feature.",
		}, []string{"feature"}),
		Revokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "revokes_total",
			Help:      "Total number of access_revoked transitions, by feature.",
		}, []string{"feature"}),
		DenialRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Name:      "denial_rate",
			Help:      "Most recently evaluated denial rate in the access log window, by feature.",
		}, []string{"feature"}),
		CircuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Name:      "circuit_open",
			Help:      "1 if the feature's circuit breaker is open (force-allow), 0 if closed.",
		}, []string{"feature"}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Name:      "queue_size",
			Help:      "Current depth of the event consumer queue.",
		}),
	}

	r.MustRegister(
		m.EventsProcessed,
		m.EventsDropped,
		m.Grants,
		m.Revokes,
		m.DenialRate,
		m.CircuitOpen,
		m.QueueSize,
	)
	return m
}
