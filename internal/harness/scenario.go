package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rewindhq/rewind/internal/seq"
)

// defaultThread names the run when a scenario does not pick one.
const defaultThread = "run-1"

// atLive is the expectation cursor for the newest state.
const atLive = "live"

// Scenario defines one declarative store exercise: a stream of
// wire-shaped events fed into a fresh store, then expectations checked
// against the views the store materializes.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Thread is the default thread id for events and the thread all
	// expectations evaluate against. Defaults to run-1.
	Thread string `yaml:"thread,omitempty"`

	// Limits overrides store limits by option name, the same keys the
	// ingest endpoint accepts (maxEventsPerRun, checkpointInterval, ...).
	Limits map[string]string `yaml:"limits,omitempty"`

	// Manifest declares the expected node set, standing in for a
	// compiled graph manifest.
	Manifest []string `yaml:"manifest,omitempty"`

	// Events is the ordered stream fed into the store.
	Events []EventStep `yaml:"events"`

	// Expect lists view checks evaluated in order after all events.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// EventStep is one wire-shaped event. Timestamps are synthesized one
// second apart in step order, so durations stay deterministic.
type EventStep struct {
	// Thread overrides the scenario's default thread for this event.
	Thread string `yaml:"thread,omitempty"`

	// Seq is the decimal sequence encoding, negative for a synthetic
	// placeholder.
	Seq string `yaml:"seq"`

	// Kind is the wire event type. Unknown kinds are fed through so
	// scenarios can exercise rejection.
	Kind string `yaml:"kind"`

	// Node is the node name, for lifecycle kinds.
	Node string `yaml:"node,omitempty"`

	// Payload is the event payload as inline YAML.
	Payload map[string]any `yaml:"payload,omitempty"`

	// StateHash optionally carries the producer's post-apply digest.
	StateHash string `yaml:"state_hash,omitempty"`
}

// Expectation checks the view at one cursor position. Blocks evaluate
// in order and each one serves a view, so changed_paths compare against
// the previous block's state.
type Expectation struct {
	// At is a decimal sequence number, or "live" for the newest state.
	At string `yaml:"at"`

	// State, when present, must equal the view's state exactly.
	// Compared on canonical forms.
	State map[string]any `yaml:"state,omitempty"`

	// ChangedPaths, when present, must equal the view's changed paths.
	// An explicit empty list asserts nothing changed.
	ChangedPaths []string `yaml:"changed_paths,omitempty"`

	// Gap asserts this position is unreachable because history was
	// trimmed past it.
	Gap bool `yaml:"gap,omitempty"`

	// Nodes maps node names to their expected status.
	Nodes map[string]string `yaml:"nodes,omitempty"`

	// OutOfSchema, when present, must equal the view's drift list.
	OutOfSchema []string `yaml:"out_of_schema,omitempty"`

	// HighWater, when present, must equal the run's live high-water
	// mark.
	HighWater string `yaml:"high_water,omitempty"`
}

// nodeStatuses are the values an expectation may name for a node.
var nodeStatuses = map[string]bool{
	"pending":   true,
	"running":   true,
	"completed": true,
	"failed":    true,
}

// limitKeys are the option names a scenario may override, matching the
// query keys config.FromQuery reads. FromQuery ignores unknown keys
// silently; scenarios reject them so typos fail loudly.
var limitKeys = map[string]bool{
	"maxEventsPerRun":             true,
	"maxRuns":                     true,
	"checkpointInterval":          true,
	"maxCheckpointsPerRun":        true,
	"maxCheckpointStateSizeBytes": true,
	"maxFullStateSizeBytes":       true,
	"maxSchemaJsonSizeBytes":      true,
}

// LoadScenario reads and parses a scenario YAML file. Returns an error
// if the file doesn't exist, is malformed, contains unknown fields
// (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	if scenario.Thread == "" {
		scenario.Thread = defaultThread
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	for key := range s.Limits {
		if !limitKeys[key] {
			return fmt.Errorf("limits: unknown option %q", key)
		}
	}

	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}

	for i, step := range s.Events {
		if step.Seq == "" {
			return fmt.Errorf("events[%d]: seq is required", i)
		}
		if _, err := seq.Parse(step.Seq); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		if step.Kind == "" {
			return fmt.Errorf("events[%d]: kind is required", i)
		}
	}

	for i, exp := range s.Expect {
		if err := validateExpectation(i, &exp); err != nil {
			return err
		}
	}

	return nil
}

// validateExpectation validates a single expect block.
func validateExpectation(index int, e *Expectation) error {
	if e.At == "" {
		return fmt.Errorf("expect[%d]: at is required", index)
	}
	if e.At != atLive {
		if _, err := seq.Parse(e.At); err != nil {
			return fmt.Errorf("expect[%d]: at: %w", index, err)
		}
	}

	if e.HighWater != "" {
		if _, err := seq.Parse(e.HighWater); err != nil {
			return fmt.Errorf("expect[%d]: high_water: %w", index, err)
		}
	}

	for name, status := range e.Nodes {
		if !nodeStatuses[status] {
			return fmt.Errorf("expect[%d]: unknown node status %q for node %q", index, status, name)
		}
	}

	if e.Gap && (e.State != nil || e.ChangedPaths != nil || len(e.Nodes) > 0 || e.OutOfSchema != nil) {
		return fmt.Errorf("expect[%d]: gap excludes state checks", index)
	}

	return nil
}
