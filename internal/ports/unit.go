// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-consensus/internal/domain"
)

// Unit represents the fundamental building block of the consensus pipeline.
// Each Unit performs a specific transformation on the study State, enabling
// composable and reusable aggregation logic.
// Units should be stateless and thread-safe for concurrent execution.
type Unit interface {
	// Name returns a unique identifier for this unit.
	// The name is used for logging, debugging, and configuration.
	Name() string

	// Execute performs the unit's transformation on the provided State.
	// It returns a new State containing the results of the transformation.
	// The original State must not be modified (immutability principle).
	// Any errors during execution should be returned rather than panicking.
	//
	// The context parameter allows for cancellation and deadline propagation.
	// Units should respect context cancellation and return promptly.
	//
	// Example:
	//
	//	newState, err := unit.Execute(ctx, state)
	//	if err != nil {
	//	    return nil, fmt.Errorf("unit %s failed: %w", unit.Name(), err)
	//	}
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate checks if the unit is properly configured and ready for
	// execution. It is typically called during pipeline construction or
	// before execution. Return nil if validation passes, or an error
	// describing what is invalid.
	Validate() error
}

// UnitFactory creates a Unit from an identifier and a flat configuration map
// decoded from study YAML. Factories are registered per unit type with a
// UnitRegistry.
type UnitFactory func(id string, config map[string]any) (Unit, error)

// UnitRegistry provides a factory abstraction for creating units based on
// their declared type and configuration.
type UnitRegistry interface {
	// CreateUnit creates a new unit instance of the given type.
	// Implementations should return a descriptive error for unknown types.
	CreateUnit(unitType string, id string, config map[string]any) (Unit, error)

	// RegisterUnitFactory registers a factory function for a unit type,
	// allowing the registry to be extended at runtime.
	RegisterUnitFactory(unitType string, factory UnitFactory) error

	// GetSupportedTypes returns all registered unit types.
	GetSupportedTypes() []string
}
