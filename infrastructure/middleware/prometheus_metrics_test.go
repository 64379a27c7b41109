package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics creates a PrometheusMetrics instance backed by a fresh
// registry so tests never collide on metric registration.
func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	return NewPrometheusMetricsWith(registry), registry
}

func TestNewPrometheusMetrics(t *testing.T) {
	pm, _ := newTestMetrics(t)

	require.NotNil(t, pm)
	assert.NotNil(t, pm.consensusRuns)
	assert.NotNil(t, pm.winnerFraction)
	assert.NotNil(t, pm.panelSize)
	assert.NotNil(t, pm.executionLatency)
	assert.NotNil(t, pm.operationCounter)
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	t.Run("routes consensus runs to the dedicated counter", func(t *testing.T) {
		pm, _ := newTestMetrics(t)

		labels := map[string]string{
			"study_id":   "s1",
			"study_kind": "crowd",
			"unit":       "mean1",
			"status":     "success",
		}
		pm.RecordCounter("consensus_runs_total", 1, labels)
		pm.RecordCounter("consensus_runs_total", 1, labels)

		value := testutil.ToFloat64(pm.consensusRuns.WithLabelValues("s1", "crowd", "mean1", "success"))
		assert.InDelta(t, 2.0, value, 1e-9)
	})

	t.Run("defaults status to success", func(t *testing.T) {
		pm, _ := newTestMetrics(t)

		pm.RecordCounter("consensus_runs_total", 1, map[string]string{
			"study_id": "s1", "study_kind": "crowd", "unit": "mean1",
		})

		value := testutil.ToFloat64(pm.consensusRuns.WithLabelValues("s1", "crowd", "mean1", "success"))
		assert.InDelta(t, 1.0, value, 1e-9)
	})

	t.Run("unknown metrics fall back to the operation counter", func(t *testing.T) {
		pm, _ := newTestMetrics(t)

		pm.RecordCounter("cache_evictions", 3, map[string]string{"unit": "mean1"})

		value := testutil.ToFloat64(pm.operationCounter.WithLabelValues("cache_evictions", "success", "mean1"))
		assert.InDelta(t, 3.0, value, 1e-9)
	})

	t.Run("missing unit label becomes unknown", func(t *testing.T) {
		pm, _ := newTestMetrics(t)

		pm.RecordCounter("cache_evictions", 1, map[string]string{})

		value := testutil.ToFloat64(pm.operationCounter.WithLabelValues("cache_evictions", "success", "unknown"))
		assert.InDelta(t, 1.0, value, 1e-9)
	})
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordGauge("consensus_winner_fraction", 0.25, map[string]string{
		"study_id": "s1", "unit": "mean1",
	})

	value := testutil.ToFloat64(pm.winnerFraction.WithLabelValues("s1", "mean1"))
	assert.InDelta(t, 0.25, value, 1e-9)

	// The latest value wins.
	pm.RecordGauge("consensus_winner_fraction", 0.5, map[string]string{
		"study_id": "s1", "unit": "mean1",
	})

	value = testutil.ToFloat64(pm.winnerFraction.WithLabelValues("s1", "mean1"))
	assert.InDelta(t, 0.5, value, 1e-9)
}

func TestPrometheusMetrics_RecordHistogram(t *testing.T) {
	pm, registry := newTestMetrics(t)

	pm.RecordHistogram("consensus_panel_size", 4, map[string]string{"unit": "mean1"})
	pm.RecordHistogram("consensus_panel_size", 1000, map[string]string{"unit": "mean1"})

	count, err := testutil.GatherAndCount(registry, "consensus_panel_size")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "expected one labeled series for the panel size histogram")
}

func TestPrometheusMetrics_RecordLatency(t *testing.T) {
	pm, registry := newTestMetrics(t)

	pm.RecordLatency("unit_execution", 150*time.Millisecond, map[string]string{"unit": "mean1"})
	pm.RecordLatency("unit_execution", 10*time.Millisecond, map[string]string{})

	count, err := testutil.GatherAndCount(registry, "unit_execution_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "expected series for both the named and unknown unit")
}
