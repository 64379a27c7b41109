package units

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Unit = (*MedianConsensusUnit)(nil)
var _ domain.Consensuser = (*MedianConsensusUnit)(nil)

// MedianConsensusUnit implements a Consensuser that uses the statistical
// median of the panel as the consensus value. The median reduces the
// influence of extreme guesses, which makes it the preferred aggregate for
// panels with known outliers or heavy-tailed guessing behavior.
//
// Verdict semantics are identical to the mean consensus: an estimate wins
// only when its absolute deviation from ground truth is strictly smaller
// than the median's deviation.
//
// Concurrency: stateless and thread-safe for concurrent execution.
type MedianConsensusUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// config contains validated configuration parameters.
	// Immutable after unit creation to ensure thread safety.
	config MedianConsensusConfig
}

// MedianConsensusConfig defines the configuration parameters for the
// MedianConsensusUnit. All fields are validated during unit creation and
// parameter unmarshaling.
type MedianConsensusConfig struct {
	// TieBreaker defines the strategy for selecting the closest estimate
	// when several are equidistant from ground truth.
	// Default: "first" for deterministic behavior.
	TieBreaker TieBreaker `yaml:"tie_breaker" json:"tie_breaker" validate:"required,oneof=first random error"`

	// MaxWinnerFraction sets an upper bound on the fraction of estimates
	// allowed to beat the consensus (0.0-1.0). Use 0.0 to disable.
	MaxWinnerFraction float64 `yaml:"max_winner_fraction" json:"max_winner_fraction" validate:"min=0.0,max=1.0"`
}

// NewMedianConsensusUnit creates a new MedianConsensusUnit with the
// specified configuration. Returns ErrEmptyUnitName if name is empty, or a
// wrapped validation error if configuration constraints are violated.
// The returned unit is immutable and thread-safe for concurrent use.
func NewMedianConsensusUnit(name string, config MedianConsensusConfig) (*MedianConsensusUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &MedianConsensusUnit{name: name, config: config}, nil
}

// Name returns the unique identifier for this unit instance.
func (mcu *MedianConsensusUnit) Name() string { return mcu.name }

// Execute scores the estimate panel in the state against ground truth using
// the median consensus and stores the resulting report.
//
// State requirements:
//   - domain.KeyEstimates: []domain.Estimate, the panel to aggregate
//   - domain.KeyGroundTruth: float64, the known true value
//
// State updates:
//   - domain.KeyReport: *domain.Report with consensus, verdicts, and the
//     closest individual estimate
func (mcu *MedianConsensusUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
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

// calculateMedian computes the statistical median from a slice of values:
// the middle value for odd counts, the mean of the two middle values for
// even counts. The input slice is sorted in place; callers must pass a copy
// if the original order matters.
func calculateMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// Consensus implements the domain.Consensuser interface with median
// aggregation and strict less-than verdicts.
//
// Algorithm:
//  1. Validates the panel is non-empty and all values are finite
//  2. Computes the consensus as the statistical median of the panel
//  3. Marks each estimate a winner iff |estimate − truth| < |median − truth|
//  4. Validates the winner fraction against MaxWinnerFraction
//
// The input order of estimates is preserved in the returned verdicts even
// though the median calculation sorts internally.
func (mcu *MedianConsensusUnit) Consensus(
	estimates []domain.Estimate,
	groundTruth float64,
) (domain.AggregateResult, error) {
	if err := validatePanel(estimates, groundTruth); err != nil {
		return domain.AggregateResult{}, err
	}

	values := make([]float64, len(estimates))
	for i, e := range estimates {
		values[i] = e.Value
	}
	median := calculateMedian(values)

	result := scorePanel(estimates, groundTruth, median)

	if mcu.config.MaxWinnerFraction > 0 && result.WinnerFraction > mcu.config.MaxWinnerFraction {
		return domain.AggregateResult{}, fmt.Errorf("%w: fraction=%.3f, maximum=%.3f",
			ErrConsensusOutperformed, result.WinnerFraction, mcu.config.MaxWinnerFraction)
	}

	return result, nil
}

// Validate checks if the unit is properly configured and ready for
// execution.
func (mcu *MedianConsensusUnit) Validate() error {
	if err := validate.Struct(mcu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration parameters and
// updates the unit's configuration. On error the configuration remains
// unchanged. Not safe for concurrent use with Execute.
func (mcu *MedianConsensusUnit) UnmarshalParameters(params yaml.Node) error {
	var config MedianConsensusConfig
	if err := params.Decode(&config); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	mcu.config = config
	return nil
}

// DefaultMedianConsensusConfig returns a MedianConsensusConfig with
// production-ready defaults: deterministic tie-breaking and no winner
// fraction gate.
func DefaultMedianConsensusConfig() MedianConsensusConfig {
	return MedianConsensusConfig{
		TieBreaker:        TieFirst,
		MaxWinnerFraction: 0.0,
	}
}

// NewMedianConsensusFromConfig creates a MedianConsensusUnit from a
// configuration map. This is the boundary adapter for YAML/JSON
// configuration.
func NewMedianConsensusFromConfig(id string, config map[string]any) (ports.Unit, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	cfg := DefaultMedianConsensusConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return NewMedianConsensusUnit(id, cfg)
}
