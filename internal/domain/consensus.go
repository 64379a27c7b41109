package domain

// Consensuser defines the interface for collapsing a panel of independent
// estimates into a single consensus value and scoring each estimate against
// it. Implementations provide different aggregation strategies such as
// arithmetic mean, median, or trimmed mean.
type Consensuser interface {
	// Consensus computes the aggregate estimate for the panel and the
	// per-estimate verdicts relative to groundTruth.
	//
	// The estimates slice must be non-empty; its order is irrelevant to the
	// aggregation but is preserved in the returned verdicts. An estimate
	// beats the consensus only when its absolute deviation from groundTruth
	// is strictly smaller than the consensus's deviation; ties lose.
	//
	// Implementations must be pure: no side effects, identical output for
	// identical input, and safe for concurrent use.
	//
	// Example:
	//
	//	estimates := []Estimate{{Value: 1000}, {Value: 1200}, {Value: 1400}, {Value: 1600}}
	//	result, err := c.Consensus(estimates, 1355)
	//	// result.Consensus == 1300, result.WinnerCount == 1
	Consensus(estimates []Estimate, groundTruth float64) (AggregateResult, error)
}
