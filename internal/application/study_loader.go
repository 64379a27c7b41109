package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Study is a fully compiled consensus study: the executable graph plus the
// validated configuration it was built from. The config is retained so
// callers can seed the initial state from the panel.
type Study struct {
	// Config is the validated configuration the study was compiled from.
	Config *StudyConfig
	// Graph is the compiled execution topology.
	// WARNING: compiled graphs are cached and shared; callers MUST NOT
	// mutate them by calling AddNode or AddEdge.
	Graph *Graph
}

// SeedState builds the initial execution state for this study from its
// panel: the ordered estimates, the ground truth, and the execution
// context metadata.
func (s *Study) SeedState(executionID string) domain.State {
	estimates := make([]domain.Estimate, len(s.Config.Panel.Estimates))
	for i, e := range s.Config.Panel.Estimates {
		estimates[i] = domain.Estimate{ID: e.ID, Value: e.Value}
	}

	kind := s.Config.Metadata.Kind
	if kind == "" {
		kind = "crowd"
	}

	state := domain.NewState().WithExecutionContext(domain.ExecutionContext{
		StudyID:     s.Config.Metadata.Name,
		StudyKind:   kind,
		ExecutionID: executionID,
	})
	state = domain.With(state, domain.KeyEstimates, estimates)
	state = domain.With(state, domain.KeyGroundTruth, s.Config.Panel.GroundTruth)
	return state
}

// StudyLoader provides YAML configuration parsing, validation, and caching
// for consensus studies, transforming declarative YAML specifications into
// executable graph structures. Compiled studies are cached by the SHA256
// hash of their normalized configuration.
type StudyLoader struct {
	// validator performs struct field validation and custom validation
	// rules for study configurations.
	validator *validator.Validate
	// unitRegistry provides factory methods for creating consensus units
	// based on their type and configuration parameters.
	unitRegistry ports.UnitRegistry
	// cache stores compiled studies indexed by config hash to avoid
	// recompiling identical configurations.
	cache map[string]*Study
	// cacheMu guards the cache map.
	cacheMu sync.RWMutex
	// sf prevents duplicate compilation when multiple goroutines request
	// the same study simultaneously.
	sf singleflight.Group
}

// NewStudyLoader creates a new study loader with validation capabilities
// and an empty cache. It registers custom validators for semantic
// validation beyond basic struct field validation, and returns an error if
// validator registration fails.
func NewStudyLoader(unitRegistry ports.UnitRegistry) (*StudyLoader, error) {
	v := validator.New()

	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return nil, fmt.Errorf("failed to register semver validator: %w", err)
	}

	return &StudyLoader{
		validator:    v,
		unitRegistry: unitRegistry,
		cache:        make(map[string]*Study),
	}, nil
}

// load is the common implementation for loading studies from byte data,
// using singleflight to prevent duplicate compilation and SHA256-based
// caching for efficiency.
func (sl *StudyLoader) load(ctx context.Context, data []byte) (*Study, error) {
	// Parse first to normalize the YAML before hashing.
	config, err := sl.parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	hash, err := sl.calculateConfigHash(config)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, _ := sl.sf.Do(hash, func() (any, error) {
		// Re-check the cache inside singleflight to close the race between
		// the cache lookup and group execution.
		if study, ok := sl.getCachedStudy(hash); ok {
			return study, nil
		}

		if err := sl.validateConfig(config); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}

		graph, err := sl.buildGraph(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to build graph: %w", err)
		}

		study := &Study{Config: config, Graph: graph}
		sl.cacheStudy(hash, study)

		return study, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*Study), nil
}

// LoadFromFile loads and compiles a consensus study from a YAML file.
// WARNING: the returned study's graph is a cached shared instance; callers
// MUST NOT mutate it.
func (sl *StudyLoader) LoadFromFile(ctx context.Context, path string) (*Study, error) {
	// Clean the path to prevent directory traversal.
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return sl.load(ctx, data)
}

// LoadFromReader loads and compiles a consensus study from an io.Reader,
// applying the same caching and validation as LoadFromFile.
func (sl *StudyLoader) LoadFromReader(ctx context.Context, r io.Reader) (*Study, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	return sl.load(ctx, data)
}

// parseYAML unmarshals YAML data into a StudyConfig using strict decoding
// so unknown fields fail loudly instead of being silently ignored.
func (sl *StudyLoader) parseYAML(data []byte) (*StudyConfig, error) {
	var config StudyConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

// validateConfig performs struct field validation followed by semantic
// validation of relationships between configuration elements.
func (sl *StudyLoader) validateConfig(config *StudyConfig) error {
	if err := sl.validator.Struct(config); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}

	if err := sl.validateSemantics(config); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}

	return nil
}

// validateSemantics enforces rules that cannot be expressed through struct
// tags: panel value sanity, global ID uniqueness across units, pipelines,
// and layers, reference integrity, and unit parameter validation.
func (sl *StudyLoader) validateSemantics(config *StudyConfig) error {
	if math.IsNaN(config.Panel.GroundTruth) || math.IsInf(config.Panel.GroundTruth, 0) {
		return fmt.Errorf("panel ground truth must be a finite number")
	}
	for i, e := range config.Panel.Estimates {
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("panel estimate %d must be a finite number", i)
		}
	}

	// Track node IDs globally so edges can reference any category without
	// ambiguity.
	allNodeIDs := make(map[string]string) // ID -> node type for error messages.
	unitIDs := make(map[string]struct{})

	for _, unit := range config.Units {
		if nodeType, exists := allNodeIDs[unit.ID]; exists {
			return fmt.Errorf("duplicate ID %q: already used by %s", unit.ID, nodeType)
		}
		allNodeIDs[unit.ID] = "unit"
		unitIDs[unit.ID] = struct{}{}

		if err := ValidateUnitParameters(unit.Type, unit.Parameters); err != nil {
			return fmt.Errorf("unit %s parameter validation failed: %w", unit.ID, err)
		}
	}

	for _, pipeline := range config.Graph.Pipelines {
		if nodeType, exists := allNodeIDs[pipeline.ID]; exists {
			return fmt.Errorf("duplicate ID %q: already used by %s", pipeline.ID, nodeType)
		}
		allNodeIDs[pipeline.ID] = "pipeline"

		for _, unitID := range pipeline.Units {
			if _, exists := unitIDs[unitID]; !exists {
				return fmt.Errorf("pipeline %s references non-existent unit: %s", pipeline.ID, unitID)
			}
		}
	}

	for _, layer := range config.Graph.Layers {
		if nodeType, exists := allNodeIDs[layer.ID]; exists {
			return fmt.Errorf("duplicate ID %q: already used by %s", layer.ID, nodeType)
		}
		allNodeIDs[layer.ID] = "layer"

		for _, unitID := range layer.Units {
			if _, exists := unitIDs[unitID]; !exists {
				return fmt.Errorf("layer %s references non-existent unit: %s", layer.ID, unitID)
			}
		}
	}

	for _, edge := range config.Graph.Edges {
		if _, exists := allNodeIDs[edge.From]; !exists {
			return fmt.Errorf("edge references non-existent source node: %s", edge.From)
		}
		if _, exists := allNodeIDs[edge.To]; !exists {
			return fmt.Errorf("edge references non-existent target node: %s", edge.To)
		}
	}

	return nil
}

// buildGraph constructs an executable graph from a validated configuration,
// creating units through the registry, grouping them into pipelines and
// layers, and establishing dependency edges.
func (sl *StudyLoader) buildGraph(ctx context.Context, config *StudyConfig) (*Graph, error) {
	graph := NewGraph()

	unitsByID := make(map[string]ports.Unit)
	for _, unitConfig := range config.Units {
		unit, err := sl.createUnit(unitConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create unit %s: %w", unitConfig.ID, err)
		}
		unitsByID[unitConfig.ID] = unit
	}

	for _, pipelineConfig := range config.Graph.Pipelines {
		pipeline := NewPipeline(pipelineConfig.ID)

		for _, unitID := range pipelineConfig.Units {
			unit, ok := unitsByID[unitID]
			if !ok {
				return nil, fmt.Errorf("unit %s not found for pipeline %s", unitID, pipelineConfig.ID)
			}
			if err := pipeline.Add(NewUnitAdapter(unit, unitID)); err != nil {
				return nil, fmt.Errorf("failed to add unit to pipeline: %w", err)
			}
		}

		if err := graph.AddNode(pipeline); err != nil {
			return nil, fmt.Errorf("failed to add pipeline to graph: %w", err)
		}
	}

	for _, layerConfig := range config.Graph.Layers {
		layer := NewLayer(layerConfig.ID)

		for _, unitID := range layerConfig.Units {
			unit, ok := unitsByID[unitID]
			if !ok {
				return nil, fmt.Errorf("unit %s not found for layer %s", unitID, layerConfig.ID)
			}
			if err := layer.Add(NewUnitAdapter(unit, unitID)); err != nil {
				return nil, fmt.Errorf("failed to add unit to layer: %w", err)
			}
		}

		if err := graph.AddNode(layer); err != nil {
			return nil, fmt.Errorf("failed to add layer to graph: %w", err)
		}
	}

	// Units not placed in any pipeline or layer become standalone nodes.
	placedUnits := make(map[string]struct{})
	for _, pipeline := range config.Graph.Pipelines {
		for _, unitID := range pipeline.Units {
			placedUnits[unitID] = struct{}{}
		}
	}
	for _, layer := range config.Graph.Layers {
		for _, unitID := range layer.Units {
			placedUnits[unitID] = struct{}{}
		}
	}

	for _, unitConfig := range config.Units {
		if _, isPlaced := placedUnits[unitConfig.ID]; !isPlaced {
			if err := graph.AddNode(NewUnitAdapter(unitsByID[unitConfig.ID], unitConfig.ID)); err != nil {
				return nil, fmt.Errorf("failed to add unit to graph: %w", err)
			}
		}
	}

	for _, edge := range config.Graph.Edges {
		if err := graph.AddEdge(edge.From, edge.To); err != nil {
			return nil, fmt.Errorf("failed to add edge: %w", err)
		}
	}

	if graph.HasCycle() {
		return nil, fmt.Errorf("graph contains cycles")
	}

	return graph, nil
}

// createUnit instantiates a consensus unit from its configuration by
// decoding its YAML parameters and delegating to the unit registry.
func (sl *StudyLoader) createUnit(config UnitConfig) (ports.Unit, error) {
	var params map[string]any
	if config.Parameters.Kind != 0 {
		if err := config.Parameters.Decode(&params); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
	}

	unit, err := sl.unitRegistry.CreateUnit(config.Type, config.ID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit: %w", err)
	}

	return unit, nil
}

// calculateConfigHash computes the SHA256 hash of a normalized StudyConfig
// for cache indexing, so semantically identical configurations produce the
// same hash regardless of whitespace or key ordering differences.
func (sl *StudyLoader) calculateConfigHash(config *StudyConfig) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}

	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:]), nil
}

// getCachedStudy retrieves a previously compiled study by config hash.
// Safe for concurrent use.
func (sl *StudyLoader) getCachedStudy(hash string) (*Study, bool) {
	sl.cacheMu.RLock()
	defer sl.cacheMu.RUnlock()

	study, ok := sl.cache[hash]
	return study, ok
}

// cacheStudy stores a compiled study indexed by its config hash.
// Safe for concurrent use.
func (sl *StudyLoader) cacheStudy(hash string, study *Study) {
	sl.cacheMu.Lock()
	defer sl.cacheMu.Unlock()

	sl.cache[hash] = study
}

// ClearCache removes all cached studies, forcing subsequent loads to
// recompile from source. Safe for concurrent use.
func (sl *StudyLoader) ClearCache() {
	sl.cacheMu.Lock()
	defer sl.cacheMu.Unlock()

	sl.cache = make(map[string]*Study)
}

// validateSemver validates that a string follows semantic versioning
// format (X.Y.Z where X, Y, Z are non-negative integers).
func validateSemver(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	var major, minor, patch int
	n, err := fmt.Sscanf(value, "%d.%d.%d", &major, &minor, &patch)
	return err == nil && n == 3
}
