// Package metrics holds the Prometheus collectors for the engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lemonslots"

// Spin results used as the "result" label
const (
	ResultWon        = "won"
	ResultLost       = "lost"
	ResultNoSpins    = "no_spins"
	ResultInProgress = "in_progress"
	ResultError      = "error"
)

// Metrics groups every collector the services report to
type Metrics struct {
	registry *prometheus.Registry

	Spins                 *prometheus.CounterVec
	PointsCredited        prometheus.Counter
	SpinsGranted          prometheus.Counter
	CreditFailures        prometheus.Counter
	NotifierDropped       prometheus.Counter
	ReconciliationPending prometheus.Gauge
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Spins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spins_total",
			Help:      "Spin attempts by result.",
		}, []string{"result"}),
		PointsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_credited_total",
			Help:      "Points credited to players.",
		}),
		SpinsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spins_granted_total",
			Help:      "Spins granted by admins.",
		}),
		CreditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_failures_total",
			Help:      "Rewards that could not be credited after retries.",
		}),
		NotifierDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_dropped_total",
			Help:      "Balance events dropped because a buffer was full.",
		}),
		ReconciliationPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_pending",
			Help:      "Credits waiting for reconciliation.",
		}),
	}

	reg.MustRegister(
		m.Spins,
		m.PointsCredited,
		m.SpinsGranted,
		m.CreditFailures,
		m.NotifierDropped,
		m.ReconciliationPending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
