package units

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
)

// TestMeanConsensusUnit_Consensus tests the core aggregation logic of the
// MeanConsensusUnit. It verifies the arithmetic mean consensus, the strict
// less-than verdict semantics, the winner statistics, and invalid input
// handling.
func TestMeanConsensusUnit_Consensus(t *testing.T) {
	tests := []struct {
		name             string
		config           MeanConsensusConfig
		estimates        []domain.Estimate
		groundTruth      float64
		expectedResult   domain.AggregateResult
		expectedError    string
		expectedSentinel error
	}{
		{
			name:   "computes mean consensus and strict verdicts",
			config: DefaultMeanConsensusConfig(),
			estimates: []domain.Estimate{
				{ID: "p1", Value: 1000},
				{ID: "p2", Value: 1200},
				{ID: "p3", Value: 1400},
				{ID: "p4", Value: 1600},
			},
			groundTruth: 1355,
			expectedResult: domain.AggregateResult{
				Consensus:      1300,
				WinnerCount:    1,
				WinnerFraction: 0.25,
				Verdicts:       []bool{false, false, true, false},
			},
		},
		{
			name:   "identical estimates matching ground truth yield no winners",
			config: DefaultMeanConsensusConfig(),
			estimates: []domain.Estimate{
				{Value: 500}, {Value: 500}, {Value: 500},
			},
			groundTruth: 500,
			expectedResult: domain.AggregateResult{
				Consensus:      500,
				WinnerCount:    0,
				WinnerFraction: 0,
				Verdicts:       []bool{false, false, false},
			},
		},
		{
			name:        "single estimate cannot beat itself",
			config:      DefaultMeanConsensusConfig(),
			estimates:   []domain.Estimate{{Value: 42}},
			groundTruth: 100,
			expectedResult: domain.AggregateResult{
				Consensus:      42,
				WinnerCount:    0,
				WinnerFraction: 0,
				Verdicts:       []bool{false},
			},
		},
		{
			name:   "ground truth equal to consensus makes ties lose",
			config: DefaultMeanConsensusConfig(),
			estimates: []domain.Estimate{
				{Value: 90}, {Value: 110}, {Value: 100},
			},
			groundTruth: 100,
			expectedResult: domain.AggregateResult{
				Consensus:      100,
				WinnerCount:    0,
				WinnerFraction: 0,
				Verdicts:       []bool{false, false, false},
			},
		},
		{
			name:   "negative estimates are valid",
			config: DefaultMeanConsensusConfig(),
			estimates: []domain.Estimate{
				{Value: -10}, {Value: -20}, {Value: -30},
			},
			groundTruth: -28,
			expectedResult: domain.AggregateResult{
				Consensus:      -20,
				WinnerCount:    1,
				WinnerFraction: 1.0 / 3.0,
				Verdicts:       []bool{false, false, true},
			},
		},
		{
			name:             "rejects empty panel",
			config:           DefaultMeanConsensusConfig(),
			estimates:        []domain.Estimate{},
			groundTruth:      100,
			expectedSentinel: ErrNoEstimates,
		},
		{
			name:   "rejects NaN estimates",
			config: DefaultMeanConsensusConfig(),
			estimates: []domain.Estimate{
				{Value: 100}, {Value: math.NaN()},
			},
			groundTruth:   100,
			expectedError: "estimate at index 1",
		},
		{
			name:   "rejects infinite estimates",
			config: DefaultMeanConsensusConfig(),
			estimates: []domain.Estimate{
				{Value: math.Inf(1)}, {Value: 100},
			},
			groundTruth:   100,
			expectedError: "estimate at index 0",
		},
		{
			name:          "rejects NaN ground truth",
			config:        DefaultMeanConsensusConfig(),
			estimates:     []domain.Estimate{{Value: 100}},
			groundTruth:   math.NaN(),
			expectedError: "ground truth",
		},
		{
			name: "enforces maximum winner fraction",
			config: MeanConsensusConfig{
				TieBreaker:        TieFirst,
				MaxWinnerFraction: 0.2,
			},
			estimates: []domain.Estimate{
				{Value: 1000},
				{Value: 1200},
				{Value: 1400},
				{Value: 1600},
			},
			groundTruth:      1355,
			expectedSentinel: ErrConsensusOutperformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := NewMeanConsensusUnit("test", tt.config)
			require.NoError(t, err)

			result, err := unit.Consensus(tt.estimates, tt.groundTruth)

			if tt.expectedSentinel != nil {
				require.ErrorIs(t, err, tt.expectedSentinel)
				return
			}
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}

			require.NoError(t, err)
			assert.InDelta(t, tt.expectedResult.Consensus, result.Consensus, 1e-9)
			assert.Equal(t, tt.expectedResult.WinnerCount, result.WinnerCount)
			assert.InDelta(t, tt.expectedResult.WinnerFraction, result.WinnerFraction, 1e-9)
			assert.Equal(t, tt.expectedResult.Verdicts, result.Verdicts)
		})
	}
}

// TestMeanConsensusUnit_ConsensusMatchesIndependentSum cross-checks the
// consensus against an independently computed arithmetic mean.
func TestMeanConsensusUnit_ConsensusMatchesIndependentSum(t *testing.T) {
	unit, err := NewMeanConsensusUnit("test", DefaultMeanConsensusConfig())
	require.NoError(t, err)

	values := []float64{3.5, -2.25, 19, 0.125, 7, 42.75, -100}
	estimates := make([]domain.Estimate, len(values))
	var sum float64
	for i, v := range values {
		estimates[i] = domain.Estimate{Value: v}
		sum += v
	}

	result, err := unit.Consensus(estimates, 5)
	require.NoError(t, err)

	assert.InDelta(t, sum/float64(len(values)), result.Consensus, 1e-12)
	assert.GreaterOrEqual(t, result.WinnerCount, 0)
	assert.LessOrEqual(t, result.WinnerCount, len(values))
	assert.InDelta(t, float64(result.WinnerCount)/float64(len(values)), result.WinnerFraction, 1e-12)
}

// TestMeanConsensusUnit_ConsensusIsIdempotent verifies that repeated calls
// with identical input produce identical output.
func TestMeanConsensusUnit_ConsensusIsIdempotent(t *testing.T) {
	unit, err := NewMeanConsensusUnit("test", DefaultMeanConsensusConfig())
	require.NoError(t, err)

	estimates := []domain.Estimate{
		{Value: 1000}, {Value: 1200}, {Value: 1400}, {Value: 1600},
	}

	first, err := unit.Consensus(estimates, 1355)
	require.NoError(t, err)
	second, err := unit.Consensus(estimates, 1355)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// TestMeanConsensusUnit_Execute tests the state transformation performed by
// the unit, including report creation and missing-key handling.
func TestMeanConsensusUnit_Execute(t *testing.T) {
	unit, err := NewMeanConsensusUnit("crowd", DefaultMeanConsensusConfig())
	require.NoError(t, err)

	t.Run("creates report with closest estimate", func(t *testing.T) {
		estimates := []domain.Estimate{
			{ID: "p1", Value: 1000},
			{ID: "p2", Value: 1200},
			{ID: "p3", Value: 1400},
			{ID: "p4", Value: 1600},
		}

		state := domain.NewState()
		state = domain.With(state, domain.KeyEstimates, estimates)
		state = domain.With(state, domain.KeyGroundTruth, 1355.0)

		newState, err := unit.Execute(context.Background(), state)
		require.NoError(t, err)

		report, ok := domain.Get(newState, domain.KeyReport)
		require.True(t, ok)
		require.NotNil(t, report)

		assert.Equal(t, "crowd_report", report.ID)
		assert.InDelta(t, 1300.0, report.Result.Consensus, 1e-9)
		assert.Equal(t, 1, report.Result.WinnerCount)
		require.NotNil(t, report.ClosestEstimate)
		assert.Equal(t, "p3", report.ClosestEstimate.ID)
		assert.False(t, report.Timestamp.IsZero())

		// Input state must be unchanged.
		_, ok = domain.Get(state, domain.KeyReport)
		assert.False(t, ok)
	})

	t.Run("fails without estimates", func(t *testing.T) {
		state := domain.With(domain.NewState(), domain.KeyGroundTruth, 100.0)

		_, err := unit.Execute(context.Background(), state)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "estimates not found")
	})

	t.Run("fails without ground truth", func(t *testing.T) {
		state := domain.With(domain.NewState(), domain.KeyEstimates, []domain.Estimate{{Value: 1}})

		_, err := unit.Execute(context.Background(), state)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ground truth not found")
	})

	t.Run("fails on empty panel", func(t *testing.T) {
		state := domain.With(domain.NewState(), domain.KeyEstimates, []domain.Estimate{})
		state = domain.With(state, domain.KeyGroundTruth, 100.0)

		_, err := unit.Execute(context.Background(), state)
		require.ErrorIs(t, err, ErrNoEstimates)
	})
}

// TestNewMeanConsensusUnit tests unit construction and configuration
// validation.
func TestNewMeanConsensusUnit(t *testing.T) {
	t.Run("rejects empty name", func(t *testing.T) {
		_, err := NewMeanConsensusUnit("", DefaultMeanConsensusConfig())
		require.ErrorIs(t, err, ErrEmptyUnitName)
	})

	t.Run("rejects invalid tie breaker", func(t *testing.T) {
		_, err := NewMeanConsensusUnit("test", MeanConsensusConfig{TieBreaker: "coin_flip"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("rejects out-of-range winner fraction", func(t *testing.T) {
		_, err := NewMeanConsensusUnit("test", MeanConsensusConfig{
			TieBreaker:        TieFirst,
			MaxWinnerFraction: 1.5,
		})
		require.Error(t, err)
	})
}

// TestMeanConsensusUnit_UnmarshalParameters tests YAML-driven
// reconfiguration.
func TestMeanConsensusUnit_UnmarshalParameters(t *testing.T) {
	unit, err := NewMeanConsensusUnit("test", DefaultMeanConsensusConfig())
	require.NoError(t, err)

	t.Run("applies valid parameters", func(t *testing.T) {
		var node yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte("tie_breaker: random\nmax_winner_fraction: 0.5\n"), &node))

		require.NoError(t, unit.UnmarshalParameters(*node.Content[0]))
		assert.Equal(t, TieRandom, unit.config.TieBreaker)
		assert.InDelta(t, 0.5, unit.config.MaxWinnerFraction, 1e-9)
	})

	t.Run("rejects invalid parameters and keeps config", func(t *testing.T) {
		var node yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte("tie_breaker: bogus\n"), &node))

		err := unit.UnmarshalParameters(*node.Content[0])
		require.Error(t, err)
		assert.Equal(t, TieRandom, unit.config.TieBreaker)
	})
}

// TestNewMeanConsensusFromConfig tests the configuration map boundary
// adapter.
func TestNewMeanConsensusFromConfig(t *testing.T) {
	t.Run("uses defaults when config is empty", func(t *testing.T) {
		unit, err := NewMeanConsensusFromConfig("agg", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "agg", unit.Name())
		require.NoError(t, unit.Validate())
	})

	t.Run("overlays user config", func(t *testing.T) {
		unit, err := NewMeanConsensusFromConfig("agg", map[string]any{
			"tie_breaker": "error",
		})
		require.NoError(t, err)

		mcu, ok := unit.(*MeanConsensusUnit)
		require.True(t, ok)
		assert.Equal(t, TieError, mcu.config.TieBreaker)
	})

	t.Run("rejects invalid config values", func(t *testing.T) {
		_, err := NewMeanConsensusFromConfig("agg", map[string]any{
			"max_winner_fraction": 2.0,
		})
		require.Error(t, err)
	})
}
