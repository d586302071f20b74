// Package metrics defines the Prometheus instrumentation surface shared by
// the HTTP API and the tick gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and every collector the service exports.
// A fresh instance per App keeps tests isolated from the default registry.
type Metrics struct {
	reg *prometheus.Registry

	// ReconcileTotal counts reconciliation outcomes by resumed state.
	ReconcileTotal *prometheus.CounterVec

	// ClearedTotal breaks StateCleared outcomes down by reason.
	ClearedTotal *prometheus.CounterVec

	// HTTPDuration observes request latency by route and status class.
	HTTPDuration *prometheus.HistogramVec

	// WSClients tracks currently connected tick gateway clients.
	WSClients prometheus.Gauge

	// TicksSent counts tick frames delivered to clients.
	TicksSent prometheus.Counter
}

// New constructs a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		reg: reg,
		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autospot_reconcile_total",
			Help: "Session reconciliations by resumed state.",
		}, []string{"outcome"}),
		ClearedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autospot_reconcile_cleared_total",
			Help: "Cleared reconciliation outcomes by reason.",
		}, []string{"reason"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autospot_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autospot_ws_clients",
			Help: "Connected tick gateway clients.",
		}),
		TicksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autospot_ticks_sent_total",
			Help: "Tick frames delivered to clients.",
		}),
	}

	reg.MustRegister(m.ReconcileTotal, m.ClearedTotal, m.HTTPDuration, m.WSClients, m.TicksSent)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveReconcile records a reconciliation outcome.
// outcome is the resumed state ("cleared", "countdown", "parking") with
// countdown rollovers reported as "countdown_elapsed"; reason is set for
// cleared outcomes only.
func (m *Metrics) ObserveReconcile(outcome, reason string) {
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
	if reason != "" {
		m.ClearedTotal.WithLabelValues(reason).Inc()
	}
}
