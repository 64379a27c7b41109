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

var _ ports.Unit = (*TrimmedMeanConsensusUnit)(nil)
var _ domain.Consensuser = (*TrimmedMeanConsensusUnit)(nil)

// TrimmedMeanConsensusUnit implements a Consensuser that discards a
// configurable fraction of the highest and lowest estimates before taking
// the arithmetic mean. It sits between the plain mean (TrimFraction 0)
// and the median (TrimFraction approaching 0.5) on the robustness scale.
//
// Verdicts are computed for every input estimate, including trimmed ones,
// against the trimmed consensus. Trimming affects only which values enter
// the average, not which estimates get scored.
type TrimmedMeanConsensusUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// config contains validated configuration parameters.
	config TrimmedMeanConsensusConfig
}

// TrimmedMeanConsensusConfig defines the configuration parameters for the
// TrimmedMeanConsensusUnit.
type TrimmedMeanConsensusConfig struct {
	// TieBreaker defines the strategy for selecting the closest estimate
	// when several are equidistant from ground truth.
	TieBreaker TieBreaker `yaml:"tie_breaker" json:"tie_breaker" validate:"required,oneof=first random error"`

	// TrimFraction is the fraction of estimates removed from each end of
	// the sorted panel before averaging. The bound of 0.4 guarantees at
	// least one value always survives trimming.
	TrimFraction float64 `yaml:"trim_fraction" json:"trim_fraction" validate:"min=0.0,max=0.4"`

	// MaxWinnerFraction sets an upper bound on the fraction of estimates
	// allowed to beat the consensus (0.0-1.0). Use 0.0 to disable.
	MaxWinnerFraction float64 `yaml:"max_winner_fraction" json:"max_winner_fraction" validate:"min=0.0,max=1.0"`
}

// NewTrimmedMeanConsensusUnit creates a new TrimmedMeanConsensusUnit with
// the specified configuration. Returns ErrEmptyUnitName if name is empty,
// or a wrapped validation error if configuration constraints are violated.
func NewTrimmedMeanConsensusUnit(name string, config TrimmedMeanConsensusConfig) (*TrimmedMeanConsensusUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &TrimmedMeanConsensusUnit{name: name, config: config}, nil
}

// Name returns the unique identifier for this unit instance.
func (tmu *TrimmedMeanConsensusUnit) Name() string { return tmu.name }

// Execute scores the estimate panel in the state against ground truth using
// the trimmed mean consensus and stores the resulting report.
//
// State requirements and updates match the other consensus units:
// domain.KeyEstimates and domain.KeyGroundTruth in, domain.KeyReport out.
func (tmu *TrimmedMeanConsensusUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	estimates, ok := domain.Get(state, domain.KeyEstimates)
	if !ok {
		return state, fmt.Errorf("estimates not found in state")
	}

	groundTruth, ok := domain.Get(state, domain.KeyGroundTruth)
	if !ok {
		return state, fmt.Errorf("ground truth not found in state")
	}

	result, err := tmu.Consensus(estimates, groundTruth)
	if err != nil {
		return state, fmt.Errorf("aggregation failed: %w", err)
	}

	closest, err := closestEstimate(estimates, groundTruth, tmu.config.TieBreaker)
	if err != nil {
		return state, fmt.Errorf("closest estimate selection failed: %w", err)
	}

	report := domain.Report{
		ID:              fmt.Sprintf("%s_report", tmu.name),
		Result:          result,
		ClosestEstimate: &closest,
		Timestamp:       time.Now().UTC(),
	}

	return domain.With(state, domain.KeyReport, &report), nil
}

// Consensus implements the domain.Consensuser interface with trimmed mean
// aggregation and strict less-than verdicts.
//
// Algorithm:
//  1. Validates the panel is non-empty and all values are finite
//  2. Sorts a copy of the values and drops floor(n*TrimFraction) from
//     each end
//  3. Computes the consensus as the mean of the surviving values
//  4. Scores every input estimate against that consensus
//  5. Validates the winner fraction against MaxWinnerFraction
func (tmu *TrimmedMeanConsensusUnit) Consensus(
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
	sort.Float64s(values)

	// floor(n*f) from each end; f <= 0.4 leaves at least one value.
	trim := int(float64(len(values)) * tmu.config.TrimFraction)
	kept := values[trim : len(values)-trim]

	var sum float64
	for _, v := range kept {
		sum += v
	}
	consensus := sum / float64(len(kept))

	result := scorePanel(estimates, groundTruth, consensus)

	if tmu.config.MaxWinnerFraction > 0 && result.WinnerFraction > tmu.config.MaxWinnerFraction {
		return domain.AggregateResult{}, fmt.Errorf("%w: fraction=%.3f, maximum=%.3f",
			ErrConsensusOutperformed, result.WinnerFraction, tmu.config.MaxWinnerFraction)
	}

	return result, nil
}

// Validate checks if the unit is properly configured and ready for
// execution.
func (tmu *TrimmedMeanConsensusUnit) Validate() error {
	if err := validate.Struct(tmu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration parameters and
// updates the unit's configuration. On error the configuration remains
// unchanged. Not safe for concurrent use with Execute.
func (tmu *TrimmedMeanConsensusUnit) UnmarshalParameters(params yaml.Node) error {
	var config TrimmedMeanConsensusConfig
	if err := params.Decode(&config); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	tmu.config = config
	return nil
}

// DefaultTrimmedMeanConsensusConfig returns a TrimmedMeanConsensusConfig
// with production-ready defaults: deterministic tie-breaking, 10% trim from
// each end, and no winner fraction gate.
func DefaultTrimmedMeanConsensusConfig() TrimmedMeanConsensusConfig {
	return TrimmedMeanConsensusConfig{
		TieBreaker:        TieFirst,
		TrimFraction:      0.1,
		MaxWinnerFraction: 0.0,
	}
}

// NewTrimmedMeanConsensusFromConfig creates a TrimmedMeanConsensusUnit from
// a configuration map. This is the boundary adapter for YAML/JSON
// configuration.
func NewTrimmedMeanConsensusFromConfig(id string, config map[string]any) (ports.Unit, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	cfg := DefaultTrimmedMeanConsensusConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return NewTrimmedMeanConsensusUnit(id, cfg)
}
