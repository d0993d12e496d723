// Package metrics exposes Prometheus counters for the lifecycle engine and
// the payment gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements the engine's Observer.
type Metrics struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	gatewayFailures     *prometheus.CounterVec
	invariantViolations prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bountyboard_task_transitions_total",
			Help: "Task status transitions, by edge.",
		}, []string{"from", "to"}),
		gatewayFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bountyboard_gateway_failures_total",
			Help: "Failed payment gateway calls, by operation.",
		}, []string{"op"}),
		invariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bountyboard_ledger_invariant_violations_total",
			Help: "Escrow conservation check failures. Any increase needs manual reconciliation.",
		}),
	}
}

func (m *Metrics) Transition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) GatewayFailure(op string) {
	m.gatewayFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) InvariantViolation() {
	m.invariantViolations.Inc()
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
