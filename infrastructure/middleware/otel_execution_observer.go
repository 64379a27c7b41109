package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ExecutionObserver = (*OTelExecutionObserver)(nil)

// OTelExecutionObserver implements observability for consensus unit
// execution using OpenTelemetry tracing. It creates a span per run, sets
// panel and result attributes, and forwards timing and outcome metrics to
// a MetricsCollector.
//
// An observer instance tracks one execution at a time; create one observer
// per wrapped unit.
type OTelExecutionObserver struct {
	metrics  ports.MetricsCollector
	unitName string
	span     trace.Span
}

// NewOTelExecutionObserver creates a new OpenTelemetry execution observer
// for the named unit. The metrics collector may be nil to disable metric
// forwarding.
func NewOTelExecutionObserver(metrics ports.MetricsCollector, unitName string) *OTelExecutionObserver {
	return &OTelExecutionObserver{metrics: metrics, unitName: unitName}
}

// Before implements the ExecutionObserver interface. It starts a span and
// records the panel being aggregated.
func (o *OTelExecutionObserver) Before(ctx context.Context, state domain.State) {
	tracer := otel.Tracer("consensus-engine")
	_, span := tracer.Start(ctx, "ConsensusUnit.Execute")
	o.span = span

	span.SetAttributes(attribute.String("consensus.unit", o.unitName))

	if execCtx, ok := state.GetExecutionContext(); ok {
		span.SetAttributes(
			attribute.String("consensus.study_id", execCtx.StudyID),
			attribute.String("consensus.study_kind", execCtx.StudyKind),
			attribute.String("consensus.execution_id", execCtx.ExecutionID),
		)
	}

	if estimates, ok := domain.Get(state, domain.KeyEstimates); ok {
		span.SetAttributes(attribute.Int("consensus.panel_size", len(estimates)))

		if o.metrics != nil {
			o.metrics.RecordHistogram("consensus_panel_size", float64(len(estimates)),
				map[string]string{"unit": o.unitName})
		}
	}
}

// After implements the ExecutionObserver interface. It finalizes the span
// with the aggregation outcome, forwards metrics, and records error status.
func (o *OTelExecutionObserver) After(
	ctx context.Context,
	state domain.State,
	elapsed time.Duration,
	err error,
) {
	defer o.span.End()

	execCtx, _ := state.GetExecutionContext()
	labels := map[string]string{
		"unit":       o.unitName,
		"study_id":   execCtx.StudyID,
		"study_kind": execCtx.StudyKind,
	}

	if o.metrics != nil {
		o.metrics.RecordLatency("unit_execution", elapsed, labels)
	}

	if err != nil {
		o.span.SetStatus(codes.Error, err.Error())

		if o.metrics != nil {
			labels["status"] = "error"
			o.metrics.RecordCounter("consensus_runs_total", 1, labels)
		}
		return
	}

	if report, ok := domain.Get(state, domain.KeyReport); ok && report != nil {
		o.span.AddEvent("consensus.report_created", trace.WithAttributes(
			attribute.Float64("consensus.value", report.Result.Consensus),
			attribute.Int("consensus.winner_count", report.Result.WinnerCount),
			attribute.Float64("consensus.winner_fraction", report.Result.WinnerFraction),
		))

		if o.metrics != nil {
			o.metrics.RecordGauge("consensus_winner_fraction", report.Result.WinnerFraction,
				map[string]string{"unit": o.unitName, "study_id": execCtx.StudyID})
		}
	}

	if o.metrics != nil {
		labels["status"] = "success"
		o.metrics.RecordCounter("consensus_runs_total", 1, labels)
	}

	o.span.SetStatus(codes.Ok, "consensus run completed")
}
