package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry and the instruments recorded by the
// HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	workflows   *prometheus.CounterVec
}

// NewMetrics builds a self-contained metrics registry with the process and Go
// runtime collectors pre-registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchboard",
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "switchboard",
			Name:      "rpc_request_duration_seconds",
			Help:      "JSON-RPC request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchboard",
			Name:      "workflows_total",
			Help:      "Workflow executions by mode and terminal status.",
		}, []string{"mode", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rpcTotal,
		m.rpcDuration,
		m.workflows,
	)
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRPC(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) observeWorkflow(mode, status string) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(mode, status).Inc()
}
