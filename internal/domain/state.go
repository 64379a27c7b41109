// Package domain contains pure, dependency-free domain models and types
// for the consensus engine.
package domain

import (
	"fmt"
	"maps"
	"reflect"
	"time"
)

// Key represents a type-safe generic key for accessing values in State.
// The type parameter T ensures compile-time type safety when getting and
// setting values, eliminating runtime type assertions at call sites.
type Key[T any] struct{ name string }

// NewKey creates a new Key with the specified name and type.
// This function is provided for creating keys outside of the domain package.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Predefined state keys used throughout a consensus study run.
// Each key is strongly typed to ensure type safety at compile time.
var (
	// KeyEstimates stores the panel of independent estimates being scored.
	KeyEstimates = Key[[]Estimate]{"estimates"}

	// KeyGroundTruth stores the known true value the panel is scored against.
	KeyGroundTruth = Key[float64]{"ground_truth"}

	// KeyReport stores the final report produced by a consensus unit.
	KeyReport = Key[*Report]{"report"}

	// Execution context keys for tracking metadata across graph traversal.

	// KeyStudyID stores the unique identifier of the study being executed,
	// used for tracking and observability.
	KeyStudyID = Key[string]{"execution.study_id"}

	// KeyStudyKind stores the kind of study being performed
	// (e.g., "crowd", "model_ensemble").
	KeyStudyKind = Key[string]{"execution.study_kind"}

	// KeyExecutionID stores a unique identifier for this specific execution
	// instance, useful for tracing and correlation.
	KeyExecutionID = Key[string]{"execution.execution_id"}

	// KeyUnitsExecuted tracks how many units have run during this graph
	// execution, maintained by the instrumentation middleware.
	KeyUnitsExecuted = Key[int64]{"execution.units_executed"}

	// KeyTraceLevel stores the current trace level (e.g., "debug", "info").
	KeyTraceLevel = Key[string]{"execution.trace_level"}
)

// deepCopyValue creates a deep copy of a value so that State remains truly
// immutable. Slices, maps, and pointers would otherwise let callers mutate
// stored data through aliases.
func deepCopyValue(value any) any {
	if value == nil {
		return nil
	}

	// time.Time is immutable and can be returned directly.
	if val, ok := value.(time.Time); ok {
		return val
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		newSlice := reflect.MakeSlice(v.Type(), v.Len(), v.Cap())
		for i := 0; i < v.Len(); i++ {
			newSlice.Index(i).Set(reflect.ValueOf(deepCopyValue(v.Index(i).Interface())))
		}
		return newSlice.Interface()

	case reflect.Map:
		newMap := reflect.MakeMap(v.Type())
		for _, key := range v.MapKeys() {
			copiedKey := deepCopyValue(key.Interface())
			copiedValue := deepCopyValue(v.MapIndex(key).Interface())
			newMap.SetMapIndex(reflect.ValueOf(copiedKey), reflect.ValueOf(copiedValue))
		}
		return newMap.Interface()

	case reflect.Ptr:
		if v.IsNil() {
			return v.Interface()
		}
		newPtr := reflect.New(v.Elem().Type())
		newPtr.Elem().Set(reflect.ValueOf(deepCopyValue(v.Elem().Interface())))
		return newPtr.Interface()

	case reflect.Struct:
		// Exported fields are deep copied; unexported fields cannot be set
		// through reflection and are left at their zero value.
		newStruct := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			if newStruct.Field(i).CanSet() {
				newStruct.Field(i).Set(reflect.ValueOf(deepCopyValue(v.Field(i).Interface())))
			}
		}
		return newStruct.Interface()

	default:
		// Primitive types are copied by value.
		return value
	}
}

// State represents an immutable collection of study data that flows through
// the pipeline. It uses copy-on-write semantics to ensure thread-safety and
// prevent unintended mutation. State is the primary structure for passing
// information between Units.
type State struct {
	// data holds the key-value pairs that make up the state.
	// It is unexported to maintain immutability guarantees.
	data map[string]any
}

// NewState creates a new empty State.
// The returned State is ready to use and can be safely shared across
// goroutines.
func NewState() State {
	return State{data: make(map[string]any)}
}

// Get retrieves a value from the State with compile-time type safety.
// It returns the value and a boolean indicating whether the key exists and
// contains a value of the correct type. The returned value is a deep copy
// to maintain immutability.
//
// Example:
//
//	estimates, ok := Get(state, KeyEstimates)
//	if !ok {
//	    // handle missing value
//	}
//	// estimates is typed as []Estimate, no type assertion needed
func Get[T any](s State, key Key[T]) (T, bool) {
	var zero T
	value, exists := s.data[key.name]
	if !exists {
		return zero, false
	}

	copied := deepCopyValue(value)
	val, ok := copied.(T)
	return val, ok
}

// GetRaw is a method version of Get that uses a string key.
// For type safety, use the generic Get function instead.
func (s State) GetRaw(keyName string) (any, bool) {
	value, exists := s.data[keyName]
	if !exists {
		return nil, false
	}
	return deepCopyValue(value), true
}

// With creates a new State with the specified key-value pair added or
// updated. It implements copy-on-write semantics, returning a new State
// instance while leaving the original unchanged.
//
// Example:
//
//	newState := With(state, KeyGroundTruth, 1355.0)
func With[T any](s State, key Key[T], value T) State {
	newData := maps.Clone(s.data)
	newData[key.name] = deepCopyValue(value)
	return State{data: newData}
}

// WithRaw is a method version of With that uses a string key and allows
// chaining. For type safety, use the generic With function instead.
func (s State) WithRaw(keyName string, value any) State {
	newData := maps.Clone(s.data)
	newData[keyName] = deepCopyValue(value)
	return State{data: newData}
}

// WithMultiple creates a new State with multiple key-value pairs added or
// updated. It is more efficient than chaining With calls as it performs a
// single clone operation.
func (s State) WithMultiple(updates map[string]any) State {
	newData := maps.Clone(s.data)
	for k, v := range updates {
		newData[k] = deepCopyValue(v)
	}
	return State{data: newData}
}

// Keys returns all keys present in the State.
// The returned slice is safe to modify without affecting the original State.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// String returns a string representation of the State for debugging purposes.
func (s State) String() string {
	return fmt.Sprintf("State%v", s.data)
}

// ExecutionContext contains metadata about the current study execution that
// flows through the State during graph traversal. It provides consistent
// access to execution metadata for middleware and observability.
type ExecutionContext struct {
	// StudyID is the unique identifier of the study being executed.
	StudyID string

	// StudyKind describes the kind of study being performed
	// (e.g., "crowd", "model_ensemble").
	StudyKind string

	// ExecutionID is a unique identifier for this specific execution
	// instance, useful for tracing and correlation.
	ExecutionID string
}

// WithExecutionContext creates a new State with execution context metadata
// included. This method should be called at the beginning of graph execution.
func (s State) WithExecutionContext(ctx ExecutionContext) State {
	updates := map[string]any{
		KeyStudyID.name:       ctx.StudyID,
		KeyStudyKind.name:     ctx.StudyKind,
		KeyExecutionID.name:   ctx.ExecutionID,
		KeyUnitsExecuted.name: int64(0),
	}
	return s.WithMultiple(updates)
}

// GetExecutionContext extracts execution context metadata from the State.
// It returns the execution context and a boolean indicating whether all
// required context fields are present and valid.
func (s State) GetExecutionContext() (ExecutionContext, bool) {
	studyID, ok1 := Get(s, KeyStudyID)
	studyKind, ok2 := Get(s, KeyStudyKind)
	executionID, ok3 := Get(s, KeyExecutionID)

	if !ok1 || !ok2 || !ok3 {
		return ExecutionContext{}, false
	}

	return ExecutionContext{
		StudyID:     studyID,
		StudyKind:   studyKind,
		ExecutionID: executionID,
	}, true
}

// RecordUnitExecution creates a new State with the units-executed counter
// incremented by n. It is used by the instrumentation middleware to track
// progress through the graph.
func (s State) RecordUnitExecution(n int64) State {
	current, _ := Get(s, KeyUnitsExecuted)
	return With(s, KeyUnitsExecuted, current+n)
}

// UnitsExecuted retrieves the cumulative count of units executed so far
// during this graph execution.
func (s State) UnitsExecuted() int64 {
	count, _ := Get(s, KeyUnitsExecuted)
	return count
}
