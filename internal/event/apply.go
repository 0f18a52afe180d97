package event

import "github.com/rewindhq/rewind/internal/state"

// ApplyState returns the materialized state after ev. The same function
// runs during live ingest and during replay from a checkpoint, so a
// reconstruction at sequence N is byte-for-byte the state live ingest
// held at N.
//
// Lifecycle kinds (node_start, edge_traversal, ...) leave the state
// untouched; they only affect per-node metadata, which the store tracks
// separately. State-bearing kinds either merge top-level values or
// replace the state wholesale:
//
//   - state_update, node_end: each key in the payload's values object
//     replaces the same top-level key.
//   - state_snapshot, producer_checkpoint: the payload's state object
//     replaces the whole materialized state.
//
// ApplyState never mutates its input. Merges copy the top-level object
// before writing, and adopted values are deep-cloned from the payload,
// so checkpoint snapshots stay intact when replay applies events on top
// of them and later events cannot reach back into history.
func ApplyState(live state.Value, ev Event) state.Value {
	if full, ok := ev.FullState(); ok {
		return state.Clone(full)
	}

	values, ok := ev.UpdateValues()
	if !ok {
		return live
	}

	prev, isObj := live.(state.Object)
	if !isObj {
		// First state-bearing event on an empty (or scalar) state starts a
		// fresh object.
		prev = nil
	}
	next := make(state.Object, len(prev)+len(values))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range values {
		next[k] = state.Clone(v)
	}
	return next
}

// StateBearing reports whether ev's kind can change the materialized
// state. The store uses this to decide when post-apply hash checks and
// size ceilings are relevant.
func (e Event) StateBearing() bool {
	switch e.Kind {
	case KindStateUpdate, KindNodeEnd, KindStateSnapshot, KindProducerCheckpoint:
		return true
	default:
		return false
	}
}
