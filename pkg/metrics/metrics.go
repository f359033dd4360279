// Package metrics exposes Prometheus collectors for engine activity.
//
// Every method is safe to call on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several engines can coexist in one
// process (and in one test binary).
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	windowsOpened    *prometheus.CounterVec
	windowsClosed    *prometheus.CounterVec
	windowsRejected  *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	actionErrors     *prometheus.CounterVec
	responsesDropped *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := func(c *prometheus.CounterVec) *prometheus.CounterVec {
		reg.MustRegister(c)
		return c
	}
	m := &Metrics{
		registry: reg,
		requests: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_requests_total",
			Help: "Requests handled by the reactor by kind.",
		}, []string{"kind"})),
		windowsOpened: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_windows_opened_total",
			Help: "Windows opened per context.",
		}, []string{"context"})),
		windowsClosed: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_windows_closed_total",
			Help: "Windows closed per context and closing condition.",
		}, []string{"context", "reason"})),
		windowsRejected: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_windows_rejected_total",
			Help: "Opening messages dropped because a map context hit its key limit.",
		}, []string{"context"})),
		alerts: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_alerts_total",
			Help: "Alerts produced by actions per context.",
		}, []string{"context"})),
		actionErrors: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_action_errors_total",
			Help: "Action executions that failed and were suppressed.",
		}, []string{"context"})),
		responsesDropped: f(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlog_responses_dropped_total",
			Help: "Responses dropped because no handler was registered for their kind.",
		}, []string{"kind"})),
	}
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(kind string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind).Inc()
}

func (m *Metrics) WindowOpened(context string) {
	if m == nil {
		return
	}
	m.windowsOpened.WithLabelValues(context).Inc()
}

func (m *Metrics) WindowClosed(context, reason string) {
	if m == nil {
		return
	}
	m.windowsClosed.WithLabelValues(context, reason).Inc()
}

func (m *Metrics) WindowRejected(context string) {
	if m == nil {
		return
	}
	m.windowsRejected.WithLabelValues(context).Inc()
}

func (m *Metrics) Alert(context string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(context).Inc()
}

func (m *Metrics) ActionError(context string) {
	if m == nil {
		return
	}
	m.actionErrors.WithLabelValues(context).Inc()
}

func (m *Metrics) ResponseDropped(kind string) {
	if m == nil {
		return
	}
	m.responsesDropped.WithLabelValues(kind).Inc()
}
