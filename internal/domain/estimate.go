package domain

import (
	"time"
)

// Estimate is a single independent point estimate of an unknown quantity,
// such as one participant's guess or one model's prediction.
type Estimate struct {
	// ID identifies who or what produced this estimate. It may be empty;
	// it is used only for reporting, never for aggregation.
	ID string `json:"id,omitempty"`

	// Value is the estimated quantity.
	Value float64 `json:"value"`
}

// AggregateResult is the outcome of scoring a panel of estimates against
// a known ground truth. It is a pure derived value: recomputed on every
// consensus run, never cached.
type AggregateResult struct {
	// Consensus is the aggregate estimate the panel converged on
	// (arithmetic mean for the standard crowd consensus).
	Consensus float64 `json:"consensus"`

	// WinnerCount is the number of estimates whose absolute deviation from
	// ground truth is strictly smaller than the consensus's deviation.
	WinnerCount int `json:"winner_count"`

	// WinnerFraction is WinnerCount divided by the panel size, in [0, 1].
	WinnerFraction float64 `json:"winner_fraction"`

	// Verdicts holds one boolean per input estimate, in input order,
	// true iff that estimate individually beat the consensus.
	Verdicts []bool `json:"verdicts"`
}

// Report is the final outcome of a consensus study run. It combines the
// aggregate result with the single best individual estimate and records
// when the run happened.
type Report struct {
	// ID uniquely identifies this report, derived from the producing unit.
	ID string `json:"id"`

	// Result contains the consensus value and the per-estimate verdicts.
	Result AggregateResult `json:"result"`

	// ClosestEstimate is the individual estimate nearest to ground truth,
	// after tie-breaking. It may be nil if no estimates were scored.
	ClosestEstimate *Estimate `json:"closest_estimate,omitempty"`

	// Timestamp records when this report was created.
	Timestamp time.Time `json:"timestamp"`
}
