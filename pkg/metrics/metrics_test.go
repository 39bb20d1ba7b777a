package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.ObserveDocument(metrics.OutcomeMatched, "W2", 10*time.Millisecond)
	m.ObserveDocument(metrics.OutcomeMatched, "W2", 20*time.Millisecond)
	m.ObserveDocument(metrics.OutcomeUnmatched, "", time.Millisecond)
	m.AddConflicts(2)
	m.AddConflicts(0)
	m.IncActionError("W2")
	m.SetRulesLoaded(1, 3)

	expected := `
# HELP nominal_documents_total Documents processed, by outcome
# TYPE nominal_documents_total counter
nominal_documents_total{outcome="matched"} 2
nominal_documents_total{outcome="unmatched"} 1
# HELP nominal_global_conflicts_total Global variable values that conflicted with the batch state
# TYPE nominal_global_conflicts_total counter
nominal_global_conflicts_total 2
# HELP nominal_rule_matches_total Documents classified by each form rule
# TYPE nominal_rule_matches_total counter
nominal_rule_matches_total{rule_id="W2"} 2
# HELP nominal_rules_loaded Number of rules loaded, by group
# TYPE nominal_rules_loaded gauge
nominal_rules_loaded{group="forms"} 3
nominal_rules_loaded{group="global"} 1
`

	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"nominal_documents_total",
		"nominal_global_conflicts_total",
		"nominal_rule_matches_total",
		"nominal_rules_loaded",
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nominal_rule_action_errors_total")
}

func TestMetrics_Nil(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveDocument(metrics.OutcomeError, "", time.Second)
		m.AddConflicts(1)
		m.IncActionError("W2")
		m.SetRulesLoaded(1, 1)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
