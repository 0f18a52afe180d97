// Package event defines the execution events a producer streams for a
// running graph, their wire encoding, and the deterministic state
// transition each kind performs. Live ingest and historical replay share
// one application path, which is what makes checkpointing a pure
// optimization instead of an observable behavior change.
package event

import (
	"fmt"
	"time"

	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// Kind identifies what happened in the producer's graph execution.
type Kind string

const (
	KindGraphStart         Kind = "graph_start"
	KindGraphEnd           Kind = "graph_end"
	KindNodeStart          Kind = "node_start"
	KindNodeEnd            Kind = "node_end"
	KindNodeError          Kind = "node_error"
	KindEdgeTraversal      Kind = "edge_traversal"
	KindConditionalBranch  Kind = "conditional_branch"
	KindParallelStart      Kind = "parallel_start"
	KindParallelEnd        Kind = "parallel_end"
	KindStateUpdate        Kind = "state_update"
	KindStateSnapshot      Kind = "state_snapshot"
	KindProducerCheckpoint Kind = "producer_checkpoint"
)

var validKinds = map[Kind]bool{
	KindGraphStart:         true,
	KindGraphEnd:           true,
	KindNodeStart:          true,
	KindNodeEnd:            true,
	KindNodeError:          true,
	KindEdgeTraversal:      true,
	KindConditionalBranch:  true,
	KindParallelStart:      true,
	KindParallelEnd:        true,
	KindStateUpdate:        true,
	KindStateSnapshot:      true,
	KindProducerCheckpoint: true,
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	return validKinds[k]
}

// Event is one producer-issued execution event. Immutable once ingested;
// nothing in the store ever rewrites an event in place.
type Event struct {
	ThreadID  string
	Seq       seq.Seq
	Kind      Kind
	NodeName  string
	Timestamp time.Time
	Payload   state.Value

	// StateHash optionally carries the producer's lowercase-hex digest of
	// the state this event should leave behind, for integrity checking.
	StateHash string
}

// Validate checks the structural requirements every ingested event must
// meet. Sequence staleness is the store's concern, not Validate's.
func (e Event) Validate() error {
	if e.ThreadID == "" {
		return fmt.Errorf("validate event: missing thread id")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("validate event: unknown kind %q", e.Kind)
	}
	return nil
}

// FullState returns the complete replacement state carried by snapshot
// and producer-checkpoint events, if any.
func (e Event) FullState() (state.Value, bool) {
	if e.Kind != KindStateSnapshot && e.Kind != KindProducerCheckpoint {
		return nil, false
	}
	obj, ok := e.Payload.(state.Object)
	if !ok {
		return nil, false
	}
	full, ok := obj["state"]
	if !ok {
		return nil, false
	}
	return full, true
}

// UpdateValues returns the top-level channel updates carried by
// state_update and node_end events, if any.
func (e Event) UpdateValues() (state.Object, bool) {
	if e.Kind != KindStateUpdate && e.Kind != KindNodeEnd {
		return nil, false
	}
	obj, ok := e.Payload.(state.Object)
	if !ok {
		return nil, false
	}
	values, ok := obj["values"].(state.Object)
	if !ok {
		return nil, false
	}
	return values, true
}

// DeclaredNodes returns the node names a graph_start event announces.
// Both plain string lists and object lists with a name field are
// accepted on the wire.
func (e Event) DeclaredNodes() []string {
	if e.Kind != KindGraphStart {
		return nil
	}
	obj, ok := e.Payload.(state.Object)
	if !ok {
		return nil
	}
	list, ok := obj["nodes"].(state.Array)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(list))
	for _, entry := range list {
		switch v := entry.(type) {
		case state.String:
			names = append(names, string(v))
		case state.Object:
			if name, ok := v["name"].(state.String); ok {
				names = append(names, string(name))
			}
		}
	}
	return names
}

// ErrorMessage returns the failure description carried by node_error
// events, if any.
func (e Event) ErrorMessage() string {
	if e.Kind != KindNodeError {
		return ""
	}
	obj, ok := e.Payload.(state.Object)
	if !ok {
		return ""
	}
	msg, _ := obj["error"].(state.String)
	return string(msg)
}
