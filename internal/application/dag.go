package application

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Pipeline is a sequential execution container that processes executables
// in strict order, where each executable's output state becomes the input
// for the next executable in the sequence.
type Pipeline struct {
	// id is the unique identifier for this pipeline within the topology.
	id string
	// executables contains the ordered list of components to run.
	executables []ports.Executable
	// idSet tracks executable IDs for O(1) duplicate detection.
	idSet map[string]struct{}
	// mu guards the executables slice for concurrent Add and Execute.
	mu sync.RWMutex
}

// NewPipeline creates a new sequential execution pipeline with the
// specified identifier. Executables run in the order they were added.
func NewPipeline(id string) *Pipeline {
	return &Pipeline{
		id:          id,
		executables: make([]ports.Executable, 0),
		idSet:       make(map[string]struct{}),
	}
}

// Execute processes all executables in this pipeline sequentially, passing
// each executable's output state to the next. It respects context
// cancellation between steps and wraps failures with the executable ID.
func (p *Pipeline) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	p.mu.RLock()
	executables := make([]ports.Executable, len(p.executables))
	copy(executables, p.executables)
	p.mu.RUnlock()

	currentState := state
	for _, exec := range executables {
		select {
		case <-ctx.Done():
			return currentState, ctx.Err()
		default:
			newState, err := exec.Execute(ctx, currentState)
			if err != nil {
				return currentState, fmt.Errorf("pipeline %s: execution failed at %s: %w", p.id, exec.ID(), err)
			}
			currentState = newState
		}
	}

	return currentState, nil
}

// ID returns the unique string identifier for this pipeline.
func (p *Pipeline) ID() string { return p.id }

// Add appends an executable to the end of this pipeline's execution
// sequence. It returns an error if the executable is nil or if one with the
// same ID already exists. Add is safe for concurrent use with Execute.
func (p *Pipeline) Add(exec ports.Executable) error {
	if exec == nil {
		return fmt.Errorf("cannot add nil executable to pipeline")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	execID := exec.ID()
	if _, exists := p.idSet[execID]; exists {
		return fmt.Errorf("executable with ID %s already exists in pipeline", execID)
	}

	p.executables = append(p.executables, exec)
	p.idSet[execID] = struct{}{}
	return nil
}

// Executables returns a copy of the ordered list of executables in this
// pipeline. The returned slice is safe to modify.
func (p *Pipeline) Executables() []ports.Executable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ports.Executable, len(p.executables))
	copy(result, p.executables)
	return result
}

// Layer is a parallel execution container that runs multiple executables
// concurrently, all receiving the same input state. Since domain.State is
// immutable, sharing it across goroutines requires no synchronization.
type Layer struct {
	// id is the unique identifier for this layer within the topology.
	id string
	// executables contains the components that will execute concurrently.
	executables []ports.Executable
	// idSet tracks executable IDs for O(1) duplicate detection.
	idSet map[string]struct{}
	// mergeStrategy defines how to combine results from parallel runs.
	// If nil, defaultMergeStrategy is used.
	mergeStrategy ports.MergeStrategy
	// concurrencyLimit caps concurrent executions.
	// Defaults to runtime.NumCPU() * 2 if not set.
	concurrencyLimit int
	// mu guards the fields above for concurrent configuration and Execute.
	mu sync.RWMutex
}

// NewLayer creates a new parallel execution layer with the specified
// identifier. All executables in the layer receive the same input state.
func NewLayer(id string) *Layer {
	return &Layer{
		id:               id,
		executables:      make([]ports.Executable, 0),
		idSet:            make(map[string]struct{}),
		concurrencyLimit: runtime.NumCPU() * 2,
	}
}

// Execute runs all executables in this layer concurrently and merges their
// output states using the configured merge strategy. Concurrency is bounded
// by the layer's limit. The first failure cancels the remaining executions
// and is returned wrapped with the failing executable's ID.
func (l *Layer) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	l.mu.RLock()
	executables := make([]ports.Executable, len(l.executables))
	copy(executables, l.executables)
	limit := l.concurrencyLimit
	strategy := l.mergeStrategy
	l.mu.RUnlock()

	if len(executables) == 0 {
		return state, nil
	}
	if limit <= 0 {
		limit = runtime.NumCPU() * 2
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	// Results are written by index so the merge order matches the order in
	// which executables were added, keeping merges deterministic.
	states := make([]domain.State, len(executables))
	for i, exec := range executables {
		g.Go(func() error {
			newState, err := exec.Execute(gctx, state)
			if err != nil {
				return fmt.Errorf("executable %s: %w", exec.ID(), err)
			}
			states[i] = newState
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return state, fmt.Errorf("layer %s failed: %w", l.id, err)
	}

	if strategy == nil {
		strategy = defaultMergeStrategy{}
	}

	mergedState, err := strategy.Merge(state, states)
	if err != nil {
		return state, fmt.Errorf("layer %s: merge failed: %w", l.id, err)
	}

	return mergedState, nil
}

// ID returns the unique string identifier for this layer.
func (l *Layer) ID() string { return l.id }

// Add includes an executable in this layer's parallel execution group.
// It returns an error if the executable is nil or if one with the same ID
// already exists. Add is safe for concurrent use with Execute.
func (l *Layer) Add(exec ports.Executable) error {
	if exec == nil {
		return fmt.Errorf("cannot add nil executable to layer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	execID := exec.ID()
	if _, exists := l.idSet[execID]; exists {
		return fmt.Errorf("executable with ID %s already exists in layer", execID)
	}

	l.executables = append(l.executables, exec)
	l.idSet[execID] = struct{}{}
	return nil
}

// Executables returns a copy of all executables in this layer.
// The returned slice is safe to modify.
func (l *Layer) Executables() []ports.Executable {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]ports.Executable, len(l.executables))
	copy(result, l.executables)
	return result
}

// SetMergeStrategy configures how parallel execution results are combined.
// If not set, a default last-write-wins strategy is used. The strategy must
// be set before Execute is called.
func (l *Layer) SetMergeStrategy(strategy ports.MergeStrategy) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.mergeStrategy = strategy
}

// SetConcurrencyLimit caps the number of executables that run concurrently
// within this layer. Zero or negative restores the default of
// runtime.NumCPU() * 2. The limit should be set before Execute is called.
func (l *Layer) SetConcurrencyLimit(limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.concurrencyLimit = limit
}

// Graph is a directed acyclic graph (DAG) container that manages the
// execution topology and dependencies between executable components while
// ensuring no circular dependencies exist.
type Graph struct {
	// nodes maps executable IDs to their components.
	nodes map[string]ports.Executable
	// edges is the adjacency list: node ID -> list of target IDs.
	edges map[string][]string
	// edgeSet provides O(1) duplicate edge detection.
	// Key format: "sourceID->targetID"
	edgeSet map[string]struct{}
	// inDegree tracks incoming edge counts for topological sorting.
	inDegree map[string]int
	// mu guards all graph data structures.
	mu sync.RWMutex
}

// NewGraph creates a new empty directed acyclic graph ready to accept
// executable nodes and dependency edges.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]ports.Executable),
		edges:    make(map[string][]string),
		edgeSet:  make(map[string]struct{}),
		inDegree: make(map[string]int),
	}
}

// AddNode registers an executable component as a node in this graph.
// The executable's ID must be unique within the graph scope.
func (g *Graph) AddNode(exec ports.Executable) error {
	if exec == nil {
		return fmt.Errorf("cannot add nil executable to graph")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := exec.ID()
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("node with ID %s already exists in graph", id)
	}

	g.nodes[id] = exec
	g.edges[id] = make([]string, 0)
	g.inDegree[id] = 0

	return nil
}

// AddEdge establishes a directed dependency where the target executable
// cannot begin until the source completes. The edge is rolled back if it
// would create a cycle.
func (g *Graph) AddEdge(sourceID, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[sourceID]; !exists {
		return fmt.Errorf("source node %s does not exist", sourceID)
	}
	if _, exists := g.nodes[targetID]; !exists {
		return fmt.Errorf("target node %s does not exist", targetID)
	}

	edgeKey := sourceID + "->" + targetID
	if _, exists := g.edgeSet[edgeKey]; exists {
		return fmt.Errorf("edge from %s to %s already exists", sourceID, targetID)
	}

	g.edges[sourceID] = append(g.edges[sourceID], targetID)
	g.edgeSet[edgeKey] = struct{}{}
	g.inDegree[targetID]++

	if g.hasCycleUnsafe() {
		g.edges[sourceID] = g.edges[sourceID][:len(g.edges[sourceID])-1]
		delete(g.edgeSet, edgeKey)
		g.inDegree[targetID]--
		return fmt.Errorf("adding edge from %s to %s would create a cycle", sourceID, targetID)
	}

	return nil
}

// TopologicalSort computes an execution order in which dependencies always
// execute before dependents, using Kahn's algorithm. It returns an error if
// the graph contains cycles.
func (g *Graph) TopologicalSort() ([]ports.Executable, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegreeCopy := make(map[string]int)
	for k, v := range g.inDegree {
		inDegreeCopy[k] = v
	}

	queue := make([]string, 0)
	for id, degree := range inDegreeCopy {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]ports.Executable, 0, len(g.nodes))

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		result = append(result, g.nodes[nodeID])

		for _, neighbor := range g.edges[nodeID] {
			inDegreeCopy[neighbor]--
			if inDegreeCopy[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	// Unprocessed nodes mean a cycle.
	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("graph contains a cycle")
	}

	return result, nil
}

// HasCycle reports whether the graph contains any circular dependency.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.hasCycleUnsafe()
}

// hasCycleUnsafe performs depth-first cycle detection with three-color node
// marking (white, gray, black); a gray-to-gray edge is a back edge.
// Must be called with the graph mutex held.
func (g *Graph) hasCycleUnsafe() bool {
	// White (0): unvisited, Gray (1): visiting, Black (2): visited.
	colors := make(map[string]int)
	for id := range g.nodes {
		colors[id] = 0
	}

	var dfs func(nodeID string) bool
	dfs = func(nodeID string) bool {
		colors[nodeID] = 1

		for _, neighbor := range g.edges[nodeID] {
			if colors[neighbor] == 1 {
				return true
			}
			if colors[neighbor] == 0 && dfs(neighbor) {
				return true
			}
		}

		colors[nodeID] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && dfs(id) {
			return true
		}
	}

	return false
}

// GetNode retrieves an executable by its unique identifier.
// The returned Executable is the instance stored in the graph and must be
// treated as read-only by callers. Safe for concurrent use.
func (g *Graph) GetNode(id string) (ports.Executable, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	exec, exists := g.nodes[id]
	return exec, exists
}

// ExecuteGraph runs every node of the graph in topological order, threading
// the state through each executable. It is the standard entry point for
// running a loaded study.
func ExecuteGraph(ctx context.Context, g *Graph, state domain.State) (domain.State, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return state, fmt.Errorf("failed to order graph: %w", err)
	}

	currentState := state
	for _, exec := range order {
		select {
		case <-ctx.Done():
			return currentState, ctx.Err()
		default:
		}

		newState, err := exec.Execute(ctx, currentState)
		if err != nil {
			return currentState, fmt.Errorf("execution failed at %s: %w", exec.ID(), err)
		}
		currentState = newState
	}

	return currentState, nil
}

// defaultMergeStrategy implements a last-write-wins merge used when a layer
// has no custom strategy configured. Because layer results are collected in
// add order, the merge is deterministic.
type defaultMergeStrategy struct{}

// Merge returns the last of the collected states, or the base state when no
// executions succeeded.
func (d defaultMergeStrategy) Merge(baseState domain.State, states []domain.State) (domain.State, error) {
	if len(states) == 0 {
		return baseState, nil
	}
	return states[len(states)-1], nil
}
