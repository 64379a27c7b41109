// Package units provides the consensus units that implement the ports.Unit
// interface for the go-consensus engine.
package units

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-consensus/internal/domain"
)

// TieBreaker represents the strategy for selecting the closest estimate
// when multiple estimates are equidistant from ground truth.
type TieBreaker string

// Supported tie-breaking strategies for consensus units.
const (
	// TieFirst selects the first estimate with the tied distance.
	// This provides deterministic behavior for reproducible results.
	TieFirst TieBreaker = "first"

	// TieRandom randomly selects among estimates with tied distances.
	// Uses cryptographically secure randomization for fairness.
	TieRandom TieBreaker = "random"

	// TieError returns an error when multiple estimates are equidistant.
	// Useful when tie-breaking must be explicitly handled by the caller.
	TieError TieBreaker = "error"
)

// Common errors returned by consensus units.
// These provide consistent error handling across all implementations.
var (
	// ErrNoEstimates is returned when an empty estimate panel is supplied;
	// the consensus is undefined for an empty panel.
	ErrNoEstimates = errors.New("no estimates provided for aggregation")

	// ErrTie is returned when multiple estimates are equidistant from
	// ground truth and TieError is configured.
	ErrTie = errors.New("multiple estimates tied for closest to ground truth")

	// ErrConsensusOutperformed is returned when the fraction of estimates
	// beating the consensus exceeds the configured maximum.
	ErrConsensusOutperformed = errors.New("winner fraction above maximum threshold")

	// ErrEmptyUnitName is returned when attempting to create a unit with an
	// empty name.
	ErrEmptyUnitName = errors.New("unit name cannot be empty")
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

// validatePanel checks that every estimate and the ground truth are finite
// IEEE 754 values. NaN or Inf anywhere would corrupt both the consensus
// calculation and the deviation comparisons.
func validatePanel(estimates []domain.Estimate, groundTruth float64) error {
	if len(estimates) == 0 {
		return ErrNoEstimates
	}
	if math.IsNaN(groundTruth) || math.IsInf(groundTruth, 0) {
		return fmt.Errorf("%w: ground truth %f", domain.ErrInvalidEstimate, groundTruth)
	}
	for i, e := range estimates {
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("%w: estimate at index %d: %f", domain.ErrInvalidEstimate, i, e.Value)
		}
	}
	return nil
}

// scorePanel computes the per-estimate verdicts against a consensus value.
// An estimate wins only when its absolute deviation from ground truth is
// strictly smaller than the consensus's deviation; ties lose.
func scorePanel(estimates []domain.Estimate, groundTruth, consensus float64) domain.AggregateResult {
	consensusDeviation := math.Abs(consensus - groundTruth)

	verdicts := make([]bool, len(estimates))
	winnerCount := 0
	for i, e := range estimates {
		if math.Abs(e.Value-groundTruth) < consensusDeviation {
			verdicts[i] = true
			winnerCount++
		}
	}

	return domain.AggregateResult{
		Consensus:      consensus,
		WinnerCount:    winnerCount,
		WinnerFraction: float64(winnerCount) / float64(len(estimates)),
		Verdicts:       verdicts,
	}
}

// closestEstimate selects the single estimate nearest to ground truth,
// applying the configured tie-breaking strategy when several estimates are
// equidistant. The panel must be non-empty and already validated.
func closestEstimate(estimates []domain.Estimate, groundTruth float64, tb TieBreaker) (domain.Estimate, error) {
	bestIdx := 0
	bestDistance := math.Inf(1)
	var tieIndices []int

	for i, e := range estimates {
		distance := math.Abs(e.Value - groundTruth)
		if distance < bestDistance {
			bestDistance = distance
			bestIdx = i
			tieIndices = []int{i}
		} else if distance == bestDistance {
			tieIndices = append(tieIndices, i)
		}
	}

	if len(tieIndices) > 1 {
		switch tb {
		case TieFirst:
			bestIdx = tieIndices[0]
		case TieError:
			return domain.Estimate{}, fmt.Errorf("%w: %d estimates at distance %.3f",
				ErrTie, len(tieIndices), bestDistance)
		case TieRandom:
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tieIndices))))
			if err != nil {
				return domain.Estimate{}, fmt.Errorf("failed to generate random number for tie-breaking: %w", err)
			}
			bestIdx = tieIndices[n.Int64()]
		}
	}

	return estimates[bestIdx], nil
}
