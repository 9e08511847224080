// Package fmetrics declares the Prometheus vectors exposed at
// /metrics, following the promauto style of the teacher's
// internal/pkg/metrics package.
package fmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DispatchRequestsTotal *prometheus.CounterVec
	DispatchDuration      *prometheus.HistogramVec
	NodeExecutionsTotal   *prometheus.CounterVec
	NodeExecutionDuration *prometheus.HistogramVec
}

// New registers every vector against reg (the caller's own registry,
// not the global default — kept explicit so tests can use a throwaway
// registry without colliding with other packages' metrics).
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		DispatchRequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flowexec_dispatch_requests_total",
			Help: "Total dispatched requests by api_id and outcome.",
		}, []string{"api_id", "outcome"}),
		DispatchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "flowexec_dispatch_duration_seconds",
			Help: "Dispatch request latency in seconds.",
		}, []string{"api_id"}),
		NodeExecutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flowexec_node_executions_total",
			Help: "Total node invocations by node type and outcome.",
		}, []string{"node_type", "outcome"}),
		NodeExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "flowexec_node_execution_duration_seconds",
			Help: "Node invocation latency in seconds.",
		}, []string{"node_type"}),
	}
}

// ObserveNode records one node invocation's outcome and duration. It
// satisfies flow.NodeMetricsRecorder without importing the flow
// package, keeping fmetrics free of a dependency on the execution
// engine it instruments.
func (m *Metrics) ObserveNode(nodeType string, outcome string, d time.Duration) {
	m.NodeExecutionsTotal.WithLabelValues(nodeType, outcome).Inc()
	m.NodeExecutionDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}
