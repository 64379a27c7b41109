package units

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/domain"
)

func TestCalculateMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{name: "empty slice", values: []float64{}, expected: 0},
		{name: "single value", values: []float64{7}, expected: 7},
		{name: "odd count", values: []float64{3, 1, 2}, expected: 2},
		{name: "even count averages middle pair", values: []float64{4, 1, 3, 2}, expected: 2.5},
		{name: "unsorted input", values: []float64{1600, 1000, 1400, 1200}, expected: 1300},
		{name: "duplicates", values: []float64{5, 5, 5, 5}, expected: 5},
		{name: "negative values", values: []float64{-3, -1, -2}, expected: -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, calculateMedian(tt.values), 1e-9)
		})
	}
}

func TestMedianConsensusUnit_Consensus(t *testing.T) {
	tests := []struct {
		name             string
		estimates        []domain.Estimate
		groundTruth      float64
		expectedResult   domain.AggregateResult
		expectedSentinel error
	}{
		{
			name: "median resists an extreme outlier",
			estimates: []domain.Estimate{
				{Value: 100}, {Value: 110}, {Value: 10000},
			},
			groundTruth: 105,
			expectedResult: domain.AggregateResult{
				Consensus:      110,
				WinnerCount:    0,
				WinnerFraction: 0,
				Verdicts:       []bool{false, false, false},
			},
		},
		{
			name: "even panel averages middle pair",
			estimates: []domain.Estimate{
				{Value: 1000}, {Value: 1200}, {Value: 1400}, {Value: 1600},
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
			name: "verdicts preserve input order despite internal sorting",
			estimates: []domain.Estimate{
				{Value: 1600}, {Value: 1000}, {Value: 1400}, {Value: 1200},
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
			name:             "rejects empty panel",
			estimates:        []domain.Estimate{},
			groundTruth:      100,
			expectedSentinel: ErrNoEstimates,
		},
		{
			name: "rejects non-finite estimates",
			estimates: []domain.Estimate{
				{Value: 1}, {Value: math.Inf(-1)},
			},
			groundTruth:      100,
			expectedSentinel: domain.ErrInvalidEstimate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := NewMedianConsensusUnit("test", DefaultMedianConsensusConfig())
			require.NoError(t, err)

			result, err := unit.Consensus(tt.estimates, tt.groundTruth)

			if tt.expectedSentinel != nil {
				require.ErrorIs(t, err, tt.expectedSentinel)
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

func TestMedianConsensusUnit_ConsensusDoesNotReorderInput(t *testing.T) {
	unit, err := NewMedianConsensusUnit("test", DefaultMedianConsensusConfig())
	require.NoError(t, err)

	estimates := []domain.Estimate{
		{ID: "a", Value: 30}, {ID: "b", Value: 10}, {ID: "c", Value: 20},
	}

	_, err = unit.Consensus(estimates, 15)
	require.NoError(t, err)

	assert.Equal(t, "a", estimates[0].ID)
	assert.InDelta(t, 30.0, estimates[0].Value, 1e-9)
	assert.Equal(t, "b", estimates[1].ID)
	assert.Equal(t, "c", estimates[2].ID)
}

func TestMedianConsensusUnit_Execute(t *testing.T) {
	unit, err := NewMedianConsensusUnit("robust", DefaultMedianConsensusConfig())
	require.NoError(t, err)

	state := domain.NewState()
	state = domain.With(state, domain.KeyEstimates, []domain.Estimate{
		{ID: "p1", Value: 100},
		{ID: "p2", Value: 110},
		{ID: "p3", Value: 10000},
	})
	state = domain.With(state, domain.KeyGroundTruth, 105.0)

	newState, err := unit.Execute(context.Background(), state)
	require.NoError(t, err)

	report, ok := domain.Get(newState, domain.KeyReport)
	require.True(t, ok)
	assert.Equal(t, "robust_report", report.ID)
	assert.InDelta(t, 110.0, report.Result.Consensus, 1e-9)
	require.NotNil(t, report.ClosestEstimate)
	// p1 and p2 are equidistant from 105; "first" tie-breaking picks p1.
	assert.Equal(t, "p1", report.ClosestEstimate.ID)
}

func TestNewMedianConsensusUnit_Validation(t *testing.T) {
	t.Run("rejects empty name", func(t *testing.T) {
		_, err := NewMedianConsensusUnit("", DefaultMedianConsensusConfig())
		require.ErrorIs(t, err, ErrEmptyUnitName)
	})

	t.Run("rejects unknown tie breaker", func(t *testing.T) {
		_, err := NewMedianConsensusUnit("test", MedianConsensusConfig{TieBreaker: "alphabetical"})
		require.Error(t, err)
	})
}

func TestNewMedianConsensusFromConfig(t *testing.T) {
	unit, err := NewMedianConsensusFromConfig("med", map[string]any{
		"tie_breaker":         "first",
		"max_winner_fraction": 0.75,
	})
	require.NoError(t, err)
	assert.Equal(t, "med", unit.Name())
	require.NoError(t, unit.Validate())
}
