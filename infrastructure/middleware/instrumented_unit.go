package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// ExecutionObserver provides observability hooks around unit execution.
// Implementations can add tracing, metrics, and logging without coupling
// observability concerns to consensus logic.
type ExecutionObserver interface {
	// Before is called immediately prior to unit execution.
	Before(ctx context.Context, state domain.State)

	// After is called once execution completes, with the resulting state,
	// elapsed time, and any execution error.
	After(ctx context.Context, state domain.State, elapsed time.Duration, err error)
}

// InstrumentedUnit wraps a ports.Unit with execution instrumentation: it
// times each run, maintains the state's units-executed counter, and
// notifies an optional ExecutionObserver. It holds no mutable state of its
// own and is safe for concurrent use.
type InstrumentedUnit struct {
	// next holds the wrapped unit in the execution chain.
	next ports.Unit

	// observer provides optional observability hooks.
	observer ExecutionObserver
}

// NewInstrumentedUnit creates an InstrumentedUnit around the given unit
// with an optional observer. The wrapped unit is required.
func NewInstrumentedUnit(next ports.Unit, observer ExecutionObserver) *InstrumentedUnit {
	if next == nil {
		panic("instrumented unit: next unit is required")
	}
	return &InstrumentedUnit{next: next, observer: observer}
}

// Name returns the wrapped unit's identifier so instrumentation stays
// transparent to registries, loaders, and reports.
func (iu *InstrumentedUnit) Name() string { return iu.next.Name() }

// Execute runs the wrapped unit, recording timing and progress around it.
// On success the returned state carries an incremented units-executed
// counter; on failure the wrapped unit's state and error pass through
// unchanged.
func (iu *InstrumentedUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if iu.observer != nil {
		iu.observer.Before(ctx, state)
	}

	start := time.Now()
	newState, err := iu.next.Execute(ctx, state)
	elapsed := time.Since(start)

	if err == nil {
		newState = newState.RecordUnitExecution(1)
	}

	if iu.observer != nil {
		iu.observer.After(ctx, newState, elapsed, err)
	}

	return newState, err
}

// Validate checks that the middleware is properly configured and delegates
// to the wrapped unit's validation.
func (iu *InstrumentedUnit) Validate() error {
	if iu.next == nil {
		return fmt.Errorf("instrumented unit: next unit is required")
	}
	return iu.next.Validate()
}
