package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the autonomy core
type Metrics struct {
	registry *prometheus.Registry

	// Tool execution metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Autonomy decision metrics
	DecisionsTotal *prometheus.CounterVec

	// Approval workflow metrics
	ApprovalsCreatedTotal prometheus.Counter
	ApprovalsDecidedTotal *prometheus.CounterVec
	ApprovalsExpiredTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool-call attempts by outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool-call attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonomy_decisions_total",
				Help: "Total number of autonomy resolutions by determining rule",
			},
			[]string{"determined_by", "required"},
		),

		ApprovalsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "approvals_created_total",
				Help: "Total number of approval records created",
			},
		),
		ApprovalsDecidedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_decided_total",
				Help: "Total number of approval decisions by result",
			},
			[]string{"decision"},
		),
		ApprovalsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "approvals_expired_total",
				Help: "Total number of approvals expired by the reaper",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ToolExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionDuration)
	m.registry.MustRegister(m.DecisionsTotal)
	m.registry.MustRegister(m.ApprovalsCreatedTotal)
	m.registry.MustRegister(m.ApprovalsDecidedTotal)
	m.registry.MustRegister(m.ApprovalsExpiredTotal)
}

// ObserveDecision records one autonomy resolution
func (m *Metrics) ObserveDecision(determinedBy string, required bool) {
	label := "false"
	if required {
		label = "true"
	}
	m.DecisionsTotal.WithLabelValues(determinedBy, label).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
