// Package middleware provides cross-cutting concerns for the consensus
// engine. It implements the middleware/wrapper pattern to keep aggregation
// logic clean while adding instrumentation and observability capabilities.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-consensus/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of consensus runs, winner
// fractions, panel sizes, and execution performance.
type PrometheusMetrics struct {
	consensusRuns    *prometheus.CounterVec
	winnerFraction   *prometheus.GaugeVec
	panelSize        *prometheus.HistogramVec
	executionLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance registered in
// the default Prometheus registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWith(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsWith creates a PrometheusMetrics instance registered
// with the given registerer. Tests use this with a fresh registry to avoid
// duplicate registration panics.
func NewPrometheusMetricsWith(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		consensusRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_runs_total",
				Help: "Total number of consensus aggregation runs completed.",
			},
			[]string{"study_id", "study_kind", "unit", "status"},
		),
		winnerFraction: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "consensus_winner_fraction",
				Help: "Fraction of estimates that beat the consensus in the latest run.",
			},
			[]string{"study_id", "unit"},
		),
		panelSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consensus_panel_size",
				Help:    "Distribution of estimate panel sizes per run.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"unit"},
		),
		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unit_execution_duration_seconds",
				Help:    "Execution time of consensus unit operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "unit"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_operations_total",
				Help: "Total number of operations performed by the consensus engine.",
			},
			[]string{"operation", "status", "unit"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	unit := labels["unit"]
	if unit == "" {
		unit = "unknown"
	}
	pm.executionLatency.WithLabelValues(operation, unit).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters, routing well-known metric names to their dedicated
// collectors.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	unit := labels["unit"]
	if unit == "" {
		unit = "unknown"
	}

	switch metric {
	case "consensus_runs_total":
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.consensusRuns.WithLabelValues(
			labels["study_id"],
			labels["study_kind"],
			unit,
			status,
		).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, "success", unit).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	unit := labels["unit"]
	if unit == "" {
		unit = "unknown"
	}

	switch metric {
	case "consensus_winner_fraction":
		pm.winnerFraction.WithLabelValues(labels["study_id"], unit).Set(value)
	default:
		// Unknown gauges are tracked as operations so they remain visible.
		pm.operationCounter.WithLabelValues(metric, "gauge", unit).Add(0)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	unit := labels["unit"]
	if unit == "" {
		unit = "unknown"
	}

	switch metric {
	case "consensus_panel_size":
		pm.panelSize.WithLabelValues(unit).Observe(value)
	default:
		pm.executionLatency.WithLabelValues(metric, unit).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements
// MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
