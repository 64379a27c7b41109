package application

import (
	"gopkg.in/yaml.v3"
)

// StudyConfig defines the complete specification for a consensus study and
// serves as the primary configuration entry point for the system. A study
// bundles the estimate panel, the ground truth, the consensus units to run,
// and the execution topology connecting them.
type StudyConfig struct {
	// Version specifies the configuration schema version using semantic
	// versioning to ensure compatibility across system updates.
	Version string `yaml:"version" validate:"required,semver"`
	// Metadata contains descriptive information about the study including
	// name, tags, and labels for organization and discovery.
	Metadata Metadata `yaml:"metadata" validate:"required"`
	// Panel holds the ground truth and the batch of independent estimates
	// to score. Panels are one-shot inputs; there are no append semantics.
	Panel PanelConfig `yaml:"panel" validate:"required"`
	// Units defines the consensus components that will execute within this
	// study, each with their own configuration.
	Units []UnitConfig `yaml:"units" validate:"required,min=1,dive"`
	// Graph specifies the execution topology that determines how units are
	// connected and the order in which they execute.
	Graph GraphTopology `yaml:"graph" validate:"required"`
}

// Metadata provides descriptive information about a study to support
// organization, discovery, and operational management.
type Metadata struct {
	// Name is the human-readable identifier for this study and must be
	// unique within the deployment scope.
	Name string `yaml:"name" validate:"required,min=1,max=255"`
	// Description provides a detailed explanation of the study's purpose.
	Description string `yaml:"description" validate:"max=1000"`
	// Kind categorizes the source of the estimates
	// (e.g., "crowd", "model_ensemble").
	Kind string `yaml:"kind" validate:"omitempty,oneof=crowd model_ensemble"`
	// Tags are categorical labels that enable filtering and grouping.
	Tags []string `yaml:"tags" validate:"max=20,dive,min=1,max=50"`
	// Labels are arbitrary key-value pairs for integration with external
	// systems and custom categorization.
	Labels map[string]string `yaml:"labels" validate:"max=50"`
}

// PanelConfig declares the estimate batch and the known true value the
// batch is scored against. This is the study's data input; estimates are
// ordered, and that order is preserved through to the per-estimate
// verdicts.
type PanelConfig struct {
	// GroundTruth is the known true value of the estimated quantity.
	GroundTruth float64 `yaml:"ground_truth"`
	// Estimates lists the independent point estimates in reporting order.
	Estimates []EstimateConfig `yaml:"estimates" validate:"required,min=1,dive"`
}

// EstimateConfig declares a single estimate within a panel.
type EstimateConfig struct {
	// ID optionally identifies who or what produced the estimate.
	ID string `yaml:"id" validate:"max=100"`
	// Value is the estimated quantity.
	Value float64 `yaml:"value"`
}

// UnitConfig defines the specification for a single consensus unit within
// a study, including its type and behavior parameters.
type UnitConfig struct {
	// ID is the unique identifier for this unit within the study and must
	// be alphanumeric for safe referencing in topologies.
	ID string `yaml:"id" validate:"required,alphanum,min=1,max=100"`
	// Type specifies the consensus unit implementation to instantiate,
	// determining the available parameters and aggregation behavior.
	Type string `yaml:"type" validate:"required,oneof=mean_consensus median_consensus trimmed_mean_consensus custom"`
	// Parameters contains type-specific configuration as flexible YAML
	// that will be validated according to the unit type requirements.
	Parameters yaml.Node `yaml:"parameters"`
}

// GraphTopology specifies the structural organization and execution flow of
// units within a study, supporting both sequential and parallel execution
// patterns.
type GraphTopology struct {
	// Pipelines define sequential execution chains where units execute in
	// strict order, with each unit's output feeding the next.
	Pipelines []PipelineConfig `yaml:"pipelines" validate:"dive"`
	// Layers define parallel execution groups where multiple units can
	// execute simultaneously over the same panel.
	Layers []LayerConfig `yaml:"layers" validate:"dive"`
	// Edges specify directed connections between units, pipelines, and
	// layers that control execution order.
	Edges []EdgeConfig `yaml:"edges" validate:"dive"`
}

// PipelineConfig defines a sequential execution chain where units execute
// in strict order with state flowing from one unit to the next.
type PipelineConfig struct {
	// ID is the unique identifier for this pipeline within the topology.
	ID string `yaml:"id" validate:"required,alphanum,min=1,max=100"`
	// Units lists the unit IDs in execution order.
	Units []string `yaml:"units" validate:"required,min=1,dive,alphanum"`
}

// LayerConfig defines a parallel execution group where multiple units
// execute concurrently over the same input state.
type LayerConfig struct {
	// ID is the unique identifier for this layer within the topology.
	ID string `yaml:"id" validate:"required,alphanum,min=1,max=100"`
	// Units lists the unit IDs that will execute in parallel, with a
	// minimum of two units required to justify layer overhead.
	Units []string `yaml:"units" validate:"required,min=2,dive,alphanum"`
}

// EdgeConfig establishes a directed connection between execution nodes in
// the topology.
type EdgeConfig struct {
	// From identifies the source node (unit, pipeline, or layer) that must
	// complete before the target node can begin execution.
	From string `yaml:"from" validate:"required,alphanum"`
	// To identifies the target node that will receive control flow upon
	// the source's completion.
	To string `yaml:"to" validate:"required,alphanum"`
}
