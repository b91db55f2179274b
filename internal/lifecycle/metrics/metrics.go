// Package metrics exposes Prometheus counters for the manifest lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle counters. A nil *Metrics is valid and records
// nothing, which keeps unit tests free of registry collisions.
type Metrics struct {
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	unresolved  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_transitions_total",
			Help: "Lifecycle status transitions, labelled by target status.",
		}, []string{"to"}),
		outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_transmission_outcomes_total",
			Help: "Transmission attempt outcomes, labelled by operation and classification.",
		}, []string{"operation", "outcome"}),
		unresolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "manifest_unresolved_total",
			Help: "Manifests flagged unresolved after the poll budget ran out.",
		}),
	}
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Outcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Unresolved() {
	if m == nil {
		return
	}
	m.unresolved.Inc()
}
