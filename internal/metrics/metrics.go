// Package metrics exposes Prometheus instruments for the ledger, the
// generation pipeline and reconciliation. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	ledgerOps         *prometheus.CounterVec
	creditsMoved      *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	reconciled        *prometheus.CounterVec
	integrityFaults   prometheus.Counter
	reconcileDuration prometheus.Histogram
}

// New registers every instrument on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		ledgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		}, []string{"op", "outcome"}),
		creditsMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Credits moved through the ledger by operation",
		}, []string{"op"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_total",
			Help: "Generation jobs by kind and terminal state",
		}, []string{"kind", "state"}),
		providerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Provider call latency by kind and outcome",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind", "outcome"}),
		reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_actions_total",
			Help: "Ledger actions finished by the reconciler",
		}, []string{"action"}),
		integrityFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_integrity_faults_total",
			Help: "Settlements rejected because the reservation was already consumed",
		}),
		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_sweep_duration_seconds",
			Help:    "Duration of one reconciliation sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) LedgerOp(op string, err error, amount int64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
	if err == nil && amount > 0 {
		m.creditsMoved.WithLabelValues(op).Add(float64(amount))
	}
}

func (m *Metrics) JobSettled(kind, state string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) ProviderCall(kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Reconciled(action string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(action).Inc()
}

func (m *Metrics) IntegrityFault() {
	if m == nil {
		return
	}
	m.integrityFaults.Inc()
}

func (m *Metrics) ReconcileSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
