package units

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Unit = (*MeanConsensusUnit)(nil)
var _ domain.Consensuser = (*MeanConsensusUnit)(nil)

// MeanConsensusUnit implements the standard wisdom-of-the-crowds
// aggregation: the consensus is the arithmetic mean of all estimates, and
// each estimate is scored on whether it individually beat that consensus
// against the known ground truth.
//
// Verdict semantics: an estimate wins only when its absolute deviation from
// ground truth is strictly smaller than the consensus's deviation. Ties
// lose, including the degenerate case where consensus equals ground truth
// exactly.
//
// Concurrency: stateless and thread-safe. Multiple goroutines can call
// Execute and Consensus simultaneously without synchronization.
//
// Precision: standard IEEE 754 double-precision summation with explicit
// NaN/Inf validation; the expected panel scale (tens to low thousands of
// estimates) needs no compensated summation.
type MeanConsensusUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// config contains the validated configuration parameters.
	config MeanConsensusConfig
}

// MeanConsensusConfig controls reporting behavior and quality gates for
// mean-based consensus. Configuration is immutable after unit creation and
// validated for consistency.
type MeanConsensusConfig struct {
	// TieBreaker defines the strategy for selecting the closest estimate
	// when several are equidistant from ground truth.
	// "first": select the first estimate (deterministic, reproducible)
	// "random": cryptographically secure random selection (unbiased)
	// "error": fail with an explicit error (strict reporting requirements)
	TieBreaker TieBreaker `yaml:"tie_breaker" json:"tie_breaker" validate:"required,oneof=first random error"`

	// MaxWinnerFraction sets an upper bound on the fraction of estimates
	// allowed to beat the consensus (0.0-1.0). A consensus that loses to
	// too many individuals signals a mis-calibrated panel; runs above this
	// bound fail with ErrConsensusOutperformed. Use 0.0 to disable.
	MaxWinnerFraction float64 `yaml:"max_winner_fraction" json:"max_winner_fraction" validate:"min=0.0,max=1.0"`
}

// NewMeanConsensusUnit creates a new MeanConsensusUnit with a validated
// configuration. The unit is immediately ready for concurrent execution
// after successful creation.
//
// The name parameter serves as a unique identifier for logging, debugging,
// and report generation. Returns ErrEmptyUnitName if name is empty, or a
// validation error if configuration constraints are violated.
func NewMeanConsensusUnit(name string, config MeanConsensusConfig) (*MeanConsensusUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &MeanConsensusUnit{name: name, config: config}, nil
}

// Name returns the unique identifier for this unit instance.
// The returned value is immutable and safe for concurrent access.
func (mcu *MeanConsensusUnit) Name() string { return mcu.name }

// Execute scores the estimate panel in the state against ground truth and
// stores the resulting report.
//
// State requirements:
//   - domain.KeyEstimates: []domain.Estimate, the panel to aggregate
//   - domain.KeyGroundTruth: float64, the known true value
//
// Returns a new state containing domain.KeyReport with:
//   - Consensus as the arithmetic mean of all estimates
//   - Per-estimate verdicts, winner count, and winner fraction
//   - The closest individual estimate after tie-breaking
//   - Report ID derived from the unit name for traceability
//
// Errors:
//   - Missing estimates or ground truth in state
//   - Empty panel (ErrNoEstimates)
//   - Non-finite estimate or ground truth values
//   - Winner fraction above the configured maximum
//
// The function is safe for concurrent execution and does not modify the
// input state.
func (mcu *MeanConsensusUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	estimates, ok := domain.Get(state, domain.KeyEstimates)
	if !ok {
		return state, fmt.Errorf("estimates not found in state")
	}

	groundTruth, ok := domain.Get(state, domain.KeyGroundTruth)
	if !ok {
		return state, fmt.Errorf("ground truth not found in state")
	}

	result, err := mcu.Consensus(estimates, groundTruth)
	if err != nil {
		return state, fmt.Errorf("aggregation failed: %w", err)
	}

	closest, err := closestEstimate(estimates, groundTruth, mcu.config.TieBreaker)
	if err != nil {
		return state, fmt.Errorf("closest estimate selection failed: %w", err)
	}

	report := domain.Report{
		ID:              fmt.Sprintf("%s_report", mcu.name),
		Result:          result,
		ClosestEstimate: &closest,
		Timestamp:       time.Now().UTC(),
	}

	return domain.With(state, domain.KeyReport, &report), nil
}

// Consensus implements the domain.Consensuser interface with arithmetic
// mean aggregation and strict less-than verdicts.
//
// Algorithm:
//  1. Validates the panel is non-empty and all values are finite
//  2. Computes the consensus as Σ(estimates) / len(estimates)
//  3. Marks each estimate a winner iff |estimate − truth| < |consensus − truth|
//  4. Validates the winner fraction against MaxWinnerFraction
//
// The computation is pure: identical inputs always yield identical outputs
// and no state is retained between calls.
func (mcu *MeanConsensusUnit) Consensus(
	estimates []domain.Estimate,
	groundTruth float64,
) (domain.AggregateResult, error) {
	if err := validatePanel(estimates, groundTruth); err != nil {
		return domain.AggregateResult{}, err
	}

	var sum float64
	for _, e := range estimates {
		sum += e.Value
	}
	// Guaranteed non-zero denominator after validatePanel.
	mean := sum / float64(len(estimates))

	result := scorePanel(estimates, groundTruth, mean)

	if mcu.config.MaxWinnerFraction > 0 && result.WinnerFraction > mcu.config.MaxWinnerFraction {
		return domain.AggregateResult{}, fmt.Errorf("%w: fraction=%.3f, maximum=%.3f",
			ErrConsensusOutperformed, result.WinnerFraction, mcu.config.MaxWinnerFraction)
	}

	return result, nil
}

// Validate verifies the unit is properly configured.
// Returns nil if the unit is operational, or a descriptive error indicating
// the specific validation failure. Safe for concurrent use.
func (mcu *MeanConsensusUnit) Validate() error {
	if err := validate.Struct(mcu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration into the unit's
// parameters with validation. Successfully decoded configuration
// immediately replaces the unit's current settings; on error the unit's
// configuration remains unchanged.
func (mcu *MeanConsensusUnit) UnmarshalParameters(params yaml.Node) error {
	var config MeanConsensusConfig

	if err := params.Decode(&config); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}

	mcu.config = config
	return nil
}

// DefaultMeanConsensusConfig returns a MeanConsensusConfig with
// production-ready defaults: deterministic tie-breaking and no winner
// fraction gate.
func DefaultMeanConsensusConfig() MeanConsensusConfig {
	return MeanConsensusConfig{
		TieBreaker:        TieFirst,
		MaxWinnerFraction: 0.0,
	}
}

// NewMeanConsensusFromConfig creates a MeanConsensusUnit from a
// configuration map. This is the boundary adapter for YAML/JSON
// configuration.
func NewMeanConsensusFromConfig(id string, config map[string]any) (ports.Unit, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	// Start with defaults, then overlay user config.
	cfg := DefaultMeanConsensusConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return NewMeanConsensusUnit(id, cfg)
}
