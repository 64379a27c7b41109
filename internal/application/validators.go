package application

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ValidateUnitParameters validates the parameters for a specific unit type,
// ensuring values meet domain constraints before a unit is instantiated.
// It returns an error if parameter decoding fails or any rule is violated.
func ValidateUnitParameters(unitType string, params yaml.Node) error {
	var paramMap map[string]any
	// A zero node means the parameters key was omitted entirely; unit
	// defaults apply and there is nothing to validate.
	if params.Kind != 0 {
		if err := params.Decode(&paramMap); err != nil {
			return fmt.Errorf("failed to decode parameters: %w", err)
		}
	}

	switch unitType {
	case "mean_consensus", "median_consensus":
		return validateConsensusParams(paramMap)
	case "trimmed_mean_consensus":
		if err := validateConsensusParams(paramMap); err != nil {
			return err
		}
		return validateTrimParams(paramMap)
	case "custom":
		// Custom units have flexible validation.
		return nil
	default:
		return fmt.Errorf("unknown unit type: %s", unitType)
	}
}

// validateConsensusParams checks the parameters shared by all consensus
// units: the tie-breaking strategy and the winner fraction gate.
func validateConsensusParams(params map[string]any) error {
	if tb, ok := params["tie_breaker"]; ok {
		s, ok := tb.(string)
		if !ok {
			return fmt.Errorf("tie_breaker must be a string")
		}
		switch s {
		case "first", "random", "error":
		default:
			return fmt.Errorf("tie_breaker must be one of first, random, error; got %q", s)
		}
	}

	if mwf, ok := params["max_winner_fraction"]; ok {
		v, err := asFloat(mwf)
		if err != nil {
			return fmt.Errorf("max_winner_fraction: %w", err)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("max_winner_fraction must be between 0 and 1, got %v", v)
		}
	}

	return nil
}

// validateTrimParams checks the trim fraction for trimmed mean units.
// The 0.4 ceiling guarantees at least one estimate survives trimming.
func validateTrimParams(params map[string]any) error {
	if tf, ok := params["trim_fraction"]; ok {
		v, err := asFloat(tf)
		if err != nil {
			return fmt.Errorf("trim_fraction: %w", err)
		}
		if v < 0 || v > 0.4 {
			return fmt.Errorf("trim_fraction must be between 0 and 0.4, got %v", v)
		}
	}
	return nil
}

// asFloat converts the numeric types yaml.v3 produces into a float64.
func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
}
