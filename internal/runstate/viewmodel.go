package runstate

import (
	"log/slog"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// NodeView is the render-facing slice of one node's meta.
type NodeView struct {
	Status     NodeStatus `json:"status"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Traversals int        `json:"traversals,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// GraphViewModel is the read-only materialization handed to consumers.
// It is recomputed from RunState plus a cursor position on every
// request and never stored; the state it carries is a deep copy.
type GraphViewModel struct {
	ThreadID string  `json:"thread_id"`
	Seq      seq.Seq `json:"seq"`
	IsLive   bool    `json:"is_live"`

	State         state.Value `json:"state"`
	StateHash     string      `json:"state_hash"`
	UnsafeNumbers bool        `json:"unsafe_numbers"`

	Nodes      map[string]NodeView `json:"nodes"`
	ActiveNode string              `json:"active_node,omitempty"`
	Finished   bool                `json:"finished"`

	// ChangedPaths lists the JSON Pointer paths that differ from the
	// previous materialization served for this run.
	ChangedPaths []string `json:"changed_paths"`

	// OutOfSchemaNodes lists observed nodes the declared schema never
	// announced, the drift signal. Empty when no schema was declared.
	OutOfSchemaNodes []string `json:"out_of_schema_nodes,omitempty"`

	// PendingLocal counts synthetic placeholders awaiting reconciliation.
	PendingLocal int `json:"pending_local"`

	// HashMismatches counts producer hash checks that failed over the
	// run's lifetime. Run-level like PendingLocal; it does not rewind
	// with the cursor.
	HashMismatches int `json:"hash_mismatches,omitempty"`
}

// viewAt materializes the run at target and advances the served-state
// marker used for change tracking. Caller holds the store lock.
func (r *RunState) viewAt(target seq.Seq, expected map[string]bool, log *slog.Logger) (GraphViewModel, error) {
	rec, err := r.reconstructAt(target, log)
	if err != nil {
		return GraphViewModel{}, err
	}

	h := state.Hash(rec.State)
	vm := GraphViewModel{
		ThreadID:       r.threadID,
		Seq:            rec.Seq,
		IsLive:         rec.Live,
		State:          rec.State,
		StateHash:      h.Hex(),
		UnsafeNumbers:  h.HasUnsafeNumbers,
		Nodes:          make(map[string]NodeView, len(rec.Meta.Nodes)),
		ActiveNode:     rec.Meta.ActiveNode,
		Finished:       rec.Meta.Finished,
		ChangedPaths:   state.Diff(rec.State, r.lastServed),
		PendingLocal:   len(r.pending),
		HashMismatches: r.hashMismatches,
	}

	for name, n := range rec.Meta.Nodes {
		vm.Nodes[name] = NodeView{
			Status:     n.Status,
			DurationMS: n.DurationMS,
			Traversals: n.Traversals,
			Error:      n.Error,
		}
	}

	schema := r.expectedNodes(expected)
	observed := make(map[string]bool, len(rec.Meta.Nodes))
	for name := range rec.Meta.Nodes {
		observed[norm.NFC.String(name)] = true
	}
	for name := range schema {
		if !observed[name] {
			vm.Nodes[name] = NodeView{Status: NodeStatusPending}
		}
	}
	if len(schema) > 0 && !r.schemaDisabled {
		for name := range rec.Meta.Nodes {
			if !schema[norm.NFC.String(name)] {
				vm.OutOfSchemaNodes = append(vm.OutOfSchemaNodes, name)
			}
		}
		sort.Strings(vm.OutOfSchemaNodes)
	}

	r.lastServed = state.Clone(rec.State)
	return vm, nil
}

// expectedNodes unions the manifest-declared node set with the one the
// run's graph_start announced. Both sides are already NFC-normalized.
func (r *RunState) expectedNodes(manifest map[string]bool) map[string]bool {
	if len(manifest) == 0 {
		return r.schema
	}
	if len(r.schema) == 0 {
		return manifest
	}
	union := make(map[string]bool, len(manifest)+len(r.schema))
	for name := range manifest {
		union[name] = true
	}
	for name := range r.schema {
		union[name] = true
	}
	return union
}
