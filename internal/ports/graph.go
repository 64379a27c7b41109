package ports

import (
	"context"

	"github.com/ahrav/go-consensus/internal/domain"
)

// MergeStrategy defines how multiple states from parallel executions
// should be combined into a single output state.
// Implement this interface to provide custom merge logic for layers that
// accounts for domain-specific conflict resolution.
type MergeStrategy interface {
	// Merge combines multiple states from parallel executions into one.
	// The baseState parameter is the original input state to the layer.
	// The states parameter contains all successfully executed states.
	// The implementation must be deterministic given the same inputs in
	// the same order, and must not modify its input states.
	Merge(baseState domain.State, states []domain.State) (domain.State, error)
}

// Executable defines the core contract for components that can be executed
// within a directed acyclic graph (DAG) study workflow.
// Evaluation units, pipelines, and layers all participate in graph-based
// execution through this interface.
type Executable interface {
	// Execute processes the given state through this component and returns
	// the updated state along with any execution errors.
	// The context allows for cancellation and timeout control.
	//
	// The input state is immutable and MUST NOT be modified; domain.State
	// uses copy-on-write semantics. Multiple executables may receive the
	// same state instance concurrently when running in parallel layers.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// ID returns the unique string identifier for this component.
	// The ID must remain constant throughout the component's lifetime and
	// should be unique within the scope of the containing graph.
	ID() string
}

// Pipeline defines a sequential execution container that runs multiple
// executables in strict order, where each executable's output becomes the
// input for the next in the sequence.
type Pipeline interface {
	Executable

	// Add appends an executable to the end of this pipeline's execution
	// sequence. Add returns an error for nil executables or duplicate IDs.
	Add(exec Executable) error

	// Executables returns the complete ordered list of executables in this
	// pipeline. The returned slice should not be modified by callers.
	Executables() []Executable
}

// Layer defines a parallel execution container that runs multiple
// executables concurrently, all receiving the same input state.
type Layer interface {
	Executable

	// Add includes an executable in this layer's parallel execution group.
	// Add returns an error for nil executables or duplicate IDs.
	Add(exec Executable) error

	// Executables returns all executables in this layer, in no particular
	// order since execution is concurrent.
	Executables() []Executable

	// SetMergeStrategy configures how parallel execution results are
	// combined. If not set, a default last-write-wins strategy is used.
	// The merge strategy must be set before Execute is called.
	SetMergeStrategy(strategy MergeStrategy)
}

// Graph defines a directed acyclic graph (DAG) container that manages the
// execution topology and dependencies between executable components while
// ensuring no circular dependencies exist.
type Graph interface {
	// AddNode registers an executable component as a node in this graph.
	// The executable's ID must be unique within the graph scope.
	AddNode(exec Executable) error

	// AddEdge establishes a directed dependency where the target executable
	// cannot begin until the source executable completes.
	// AddEdge returns an error if either ID is not found, if the edge
	// would create a cycle, or if the edge already exists.
	AddEdge(sourceID, targetID string) error

	// TopologicalSort computes an execution order in which dependencies
	// always execute before dependents. It returns an error if the graph
	// contains cycles.
	TopologicalSort() ([]Executable, error)

	// HasCycle reports whether the graph contains any circular dependency
	// that would prevent a valid topological ordering.
	HasCycle() bool

	// GetNode retrieves an executable by its unique identifier.
	// The returned Executable is the instance stored in the graph and must
	// be treated as read-only by callers.
	GetNode(id string) (Executable, bool)
}
