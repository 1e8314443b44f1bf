// Package metrics exposes Prometheus collectors for the bill pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splitscribe"

// Pipeline outcomes.
const (
	OutcomeSuccess           = "success"
	OutcomeReplayed          = "replayed"
	OutcomeRejected          = "rejected"
	OutcomeContractViolation = "contract_violation"
	OutcomeTransient         = "transient"
	OutcomePersistenceError  = "persistence_error"
	OutcomeError             = "error"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelDuration prometheus.Histogram
	violations    *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	splits        prometheus.Histogram
}

// New creates the collectors on a fresh registry, along with Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Bill pipeline runs by outcome.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Generative model calls by result.",
		}, []string{"result"}),
		modelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Latency of generative model calls.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_violations_total",
			Help:      "Model answers refused by the validator, by kind.",
		}, []string{"kind"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_warnings_total",
			Help:      "Allocations accepted with sums that don't reconcile, by kind.",
		}, []string{"kind"}),
		splits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persisted_splits",
			Help:      "Number of splits persisted per expense.",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs,
		m.modelCalls,
		m.modelDuration,
		m.violations,
		m.warnings,
		m.splits,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PipelineRun counts one finished pipeline run.
func (m *Metrics) PipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ModelCall records one model call and its latency.
func (m *Metrics) ModelCall(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.modelCalls.WithLabelValues(result).Inc()
	m.modelDuration.Observe(d.Seconds())
}

// ContractViolation counts one refused model answer.
func (m *Metrics) ContractViolation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

// ReconciliationWarning counts one accepted but unreconciled sum.
func (m *Metrics) ReconciliationWarning(kind string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(kind).Inc()
}

// PersistedSplits records how many splits one expense got.
func (m *Metrics) PersistedSplits(n int) {
	if m == nil {
		return
	}
	m.splits.Observe(float64(n))
}
