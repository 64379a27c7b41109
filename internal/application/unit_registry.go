package application

import (
	"fmt"
	"sync"

	"github.com/ahrav/go-consensus/infrastructure/units"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.UnitRegistry = (*DefaultUnitRegistry)(nil)

// DefaultUnitRegistry implements the UnitRegistry interface providing a
// factory for creating consensus units based on type and configuration.
// It supports dynamic registration of unit factories and an optional
// wrapper hook for layering middleware around every created unit.
type DefaultUnitRegistry struct {
	// factories maps unit type strings to their factory functions.
	factories map[string]ports.UnitFactory
	// wrapper, when set, decorates every created unit; used to attach
	// instrumentation middleware without coupling the registry to it.
	wrapper func(ports.Unit) ports.Unit
	// mu protects concurrent access to the fields above.
	mu sync.RWMutex
}

// NewDefaultUnitRegistry creates a new unit registry with the standard
// consensus unit types pre-registered: mean_consensus, median_consensus,
// and trimmed_mean_consensus.
func NewDefaultUnitRegistry() *DefaultUnitRegistry {
	registry := &DefaultUnitRegistry{
		factories: make(map[string]ports.UnitFactory),
	}

	registry.registerBuiltinFactories()

	return registry
}

// registerBuiltinFactories registers the standard unit types provided by
// the consensus framework.
func (r *DefaultUnitRegistry) registerBuiltinFactories() {
	r.factories["mean_consensus"] = units.NewMeanConsensusFromConfig
	r.factories["median_consensus"] = units.NewMedianConsensusFromConfig
	r.factories["trimmed_mean_consensus"] = units.NewTrimmedMeanConsensusFromConfig
}

// CreateUnit creates a new unit instance based on the provided type,
// identifier, and configuration, applying the configured wrapper if any.
func (r *DefaultUnitRegistry) CreateUnit(
	unitType string,
	id string,
	config map[string]any,
) (ports.Unit, error) {
	r.mu.RLock()
	factory, exists := r.factories[unitType]
	wrapper := r.wrapper
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported unit type: %s", unitType)
	}

	if id == "" {
		return nil, fmt.Errorf("unit ID cannot be empty")
	}

	if config == nil {
		config = make(map[string]any)
	}

	unit, err := factory(id, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit %s of type %s: %w", id, unitType, err)
	}

	if wrapper != nil {
		unit = wrapper(unit)
	}

	return unit, nil
}

// RegisterUnitFactory registers a new factory function for a specific unit
// type, allowing the registry to be extended with custom unit types at
// runtime.
func (r *DefaultUnitRegistry) RegisterUnitFactory(
	unitType string,
	factory ports.UnitFactory,
) error {
	if unitType == "" {
		return fmt.Errorf("unit type cannot be empty")
	}

	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[unitType] = factory
	return nil
}

// GetSupportedTypes returns a list of all registered unit types.
// This is useful for validation, documentation, and introspection.
func (r *DefaultUnitRegistry) GetSupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for unitType := range r.factories {
		types = append(types, unitType)
	}

	return types
}

// SetUnitWrapper configures a decorator applied to every unit created by
// this registry. Passing nil removes the wrapper. The hook is how callers
// attach middleware such as execution instrumentation.
func (r *DefaultUnitRegistry) SetUnitWrapper(wrap func(ports.Unit) ports.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wrapper = wrap
}
