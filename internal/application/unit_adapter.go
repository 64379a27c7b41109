package application

import (
	"context"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// UnitAdapter wraps a ports.Unit to implement the ports.Executable
// interface, enabling units to participate in pipelines, layers, and
// graphs that expect executables.
type UnitAdapter struct {
	// unit is the underlying consensus unit that performs the actual work.
	unit ports.Unit
	// id is the unique identifier for this adapter within the graph scope.
	id string
}

// NewUnitAdapter creates a new adapter around a ports.Unit, preserving the
// unit's behavior while providing the Executable interface expected by the
// graph machinery.
func NewUnitAdapter(unit ports.Unit, id string) *UnitAdapter {
	return &UnitAdapter{unit: unit, id: id}
}

// Execute delegates to the underlying unit's Execute method, maintaining
// the same semantics including error handling and context cancellation.
func (ua *UnitAdapter) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	return ua.unit.Execute(ctx, state)
}

// ID returns the unique string identifier for this adapter.
func (ua *UnitAdapter) ID() string { return ua.id }
