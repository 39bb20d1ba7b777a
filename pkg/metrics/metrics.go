// Package metrics defines the Prometheus metrics of document processing.
//
// A nil [*Metrics] is valid and records nothing, so callers do not need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nominal"

// Outcome labels.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// Metrics holds the processing metrics and the registry they are
// registered with.
type Metrics struct {
	registry          *prometheus.Registry
	documentsTotal    *prometheus.CounterVec
	ruleMatchesTotal  *prometheus.CounterVec
	conflictsTotal    prometheus.Counter
	actionErrorsTotal *prometheus.CounterVec
	processDuration   prometheus.Histogram
	rulesLoaded       *prometheus.GaugeVec
}

// New creates and registers the metrics with a new registry, along with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed, by outcome",
		}, []string{"outcome"}),

		ruleMatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rule",
			Name:      "matches_total",
			Help:      "Documents classified by each form rule",
		}, []string{"rule_id"}),

		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "global_conflicts_total",
			Help:      "Global variable values that conflicted with the batch state",
		}),

		actionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rule",
			Name:      "action_errors_total",
			Help:      "Rule actions that failed",
		}, []string{"rule_id"}),

		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_duration_seconds",
			Help:      "Time spent reading and classifying a document",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		rulesLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_loaded",
			Help:      "Number of rules loaded, by group",
		}, []string{"group"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.documentsTotal,
		m.ruleMatchesTotal,
		m.conflictsTotal,
		m.actionErrorsTotal,
		m.processDuration,
		m.rulesLoaded,
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler returns an HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveDocument records a processed document. ruleID is empty unless the
// outcome is [OutcomeMatched].
func (m *Metrics) ObserveDocument(outcome, ruleID string, d time.Duration) {
	if m == nil {
		return
	}

	m.documentsTotal.WithLabelValues(outcome).Inc()
	m.processDuration.Observe(d.Seconds())

	if ruleID != "" {
		m.ruleMatchesTotal.WithLabelValues(ruleID).Inc()
	}
}

// AddConflicts records global variable conflicts.
func (m *Metrics) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.conflictsTotal.Add(float64(n))
}

// IncActionError records a failed action of rule ruleID.
func (m *Metrics) IncActionError(ruleID string) {
	if m == nil {
		return
	}

	m.actionErrorsTotal.WithLabelValues(ruleID).Inc()
}

// SetRulesLoaded records the number of loaded rules in each group.
func (m *Metrics) SetRulesLoaded(global, forms int) {
	if m == nil {
		return
	}

	m.rulesLoaded.WithLabelValues("global").Set(float64(global))
	m.rulesLoaded.WithLabelValues("forms").Set(float64(forms))
}
