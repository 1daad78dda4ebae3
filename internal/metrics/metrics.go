// Package metrics exposes the controller's Prometheus instrumentation,
// grounded on services/assessment/internal/observability/metrics.go:
// counters and gauges registered at construction, nil-receiver-safe
// methods so instrumentation can be wired in optionally, and a promhttp
// handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nrgchamp/hvac-controller/internal/core"
)

// Metrics holds the controller's counters and gauges. A nil *Metrics is
// safe to call methods on; every method no-ops.
type Metrics struct {
	fsmTransitions   *prometheus.CounterVec
	fsmRejections    prometheus.Counter
	hubReconnects    prometheus.Counter
	breakerState     prometheus.Gauge
	serviceCallsDone *prometheus.CounterVec
	fsmState         *prometheus.GaugeVec
}

// New constructs and registers the controller's metrics.
func New() *Metrics {
	m := &Metrics{
		fsmTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvac_fsm_transitions_total",
			Help: "Total committed FSM transitions by from-state, to-state and event.",
		}, []string{"from", "to", "event"}),
		fsmRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hvac_fsm_transitions_rejected_total",
			Help: "Total FSM transitions rejected as invalid or partially failed.",
		}),
		hubReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hvac_hub_reconnects_total",
			Help: "Total hub WebSocket reconnect attempts.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hvac_hub_breaker_state",
			Help: "Hub reconnect circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		serviceCallsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hvac_service_calls_total",
			Help: "Total hub service calls by service name and outcome.",
		}, []string{"service", "outcome"}),
		fsmState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hvac_fsm_state",
			Help: "1 for the FSM's current state, 0 for all others.",
		}, []string{"state"}),
	}

	prometheus.MustRegister(
		m.fsmTransitions,
		m.fsmRejections,
		m.hubReconnects,
		m.breakerState,
		m.serviceCallsDone,
		m.fsmState,
	)

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTransition observes a committed FSM transition and updates the
// current-state gauge.
func (m *Metrics) RecordTransition(from, to core.State, ev core.Event) {
	if m == nil {
		return
	}
	m.fsmTransitions.WithLabelValues(string(from), string(to), string(ev)).Inc()
	for _, s := range []core.State{core.StateInitial, core.StateIdle, core.StateHeating, core.StateCooling, core.StateDefrost, core.StateStopped} {
		v := 0.0
		if s == to {
			v = 1.0
		}
		m.fsmState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordRejection observes a rejected or partially-failed transition
// attempt.
func (m *Metrics) RecordRejection() {
	if m == nil {
		return
	}
	m.fsmRejections.Inc()
}

// RecordReconnect observes one hub reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.hubReconnects.Inc()
}

// SetBreakerState publishes the hub reconnect breaker's numeric state.
func (m *Metrics) SetBreakerState(v float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(v)
}

// RecordServiceCall observes the outcome of a single hub service call.
func (m *Metrics) RecordServiceCall(service string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.serviceCallsDone.WithLabelValues(service, outcome).Inc()
}
