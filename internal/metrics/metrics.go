package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region metrics
// Metrics groups the controller's prometheus collectors. Collectors are
// registered on the registerer passed to New so tests can use private
// registries.
type Metrics struct {
	Cycles            prometheus.Counter
	RiskTriggers      prometheus.Counter
	Validations       *prometheus.CounterVec // result: pass | fail | timeout | error
	ValidationLatency prometheus.Histogram
	Mutations         *prometheus.CounterVec // path, outcome
	RouterDecisions   *prometheus.CounterVec // mutator, allowed
	Overrides         *prometheus.CounterVec // accepted
	StorageFailures   *prometheus.CounterVec // domain
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "mutation_cycles_total",
			Help: "Cognition cycles completed",
		}),
		RiskTriggers: f.NewCounter(prometheus.CounterOpts{
			Name: "mutation_risk_triggers_total",
			Help: "Cycles whose risk exceeded the trigger threshold",
		}),
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_validations_total",
			Help: "Sandbox validations by result",
		}, []string{"result"}),
		ValidationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mutation_validation_duration_seconds",
			Help:    "Sandbox validation latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_records_total",
			Help: "Mutation records settled, by trigger path and outcome",
		}, []string{"path", "outcome"}),
		RouterDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_router_decisions_total",
			Help: "Admission decisions by mutator and result",
		}, []string{"mutator", "allowed"}),
		Overrides: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_shadow_overrides_total",
			Help: "Shadow override checks by result",
		}, []string{"accepted"}),
		StorageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutation_storage_failures_total",
			Help: "Lineage appends that failed and were dropped",
		}, []string{"domain"}),
	}
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrNop returns m, or a throwaway set when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return Nop()
	}
	return m
}

// #endregion metrics
