package runstate

import (
	"time"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/state"
)

// NodeStatus tracks where a graph node is in its lifecycle.
type NodeStatus string

const (
	// NodeStatusPending marks a node declared by the schema but not yet
	// observed executing.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusRunning marks a node between node_start and node_end.
	NodeStatusRunning NodeStatus = "running"

	// NodeStatusCompleted marks a node that finished normally.
	NodeStatusCompleted NodeStatus = "completed"

	// NodeStatusFailed marks a node that reported node_error.
	NodeStatusFailed NodeStatus = "failed"
)

// NodeMeta is the per-node execution record derived from lifecycle
// events.
type NodeMeta struct {
	Status     NodeStatus
	StartedAt  time.Time
	DurationMS int64
	Traversals int
	Error      string
}

// RunMeta is the non-state half of a run's observed execution: node
// lifecycles, the active node, and completion. It evolves through the
// same deterministic application path as the JSON state, so checkpoints
// capture both halves and replay reconstructs both.
type RunMeta struct {
	Nodes         map[string]*NodeMeta
	ActiveNode    string
	ParallelDepth int
	Finished      bool
}

// NewRunMeta returns an empty meta record.
func NewRunMeta() RunMeta {
	return RunMeta{Nodes: make(map[string]*NodeMeta)}
}

// Clone deep-copies m. Checkpoints hold clones so later events cannot
// reach back into captured history.
func (m RunMeta) Clone() RunMeta {
	out := RunMeta{
		Nodes:         make(map[string]*NodeMeta, len(m.Nodes)),
		ActiveNode:    m.ActiveNode,
		ParallelDepth: m.ParallelDepth,
		Finished:      m.Finished,
	}
	for name, node := range m.Nodes {
		copied := *node
		out.Nodes[name] = &copied
	}
	return out
}

func (m *RunMeta) node(name string) *NodeMeta {
	if name == "" {
		return nil
	}
	if m.Nodes == nil {
		m.Nodes = make(map[string]*NodeMeta)
	}
	n, ok := m.Nodes[name]
	if !ok {
		n = &NodeMeta{Status: NodeStatusPending}
		m.Nodes[name] = n
	}
	return n
}

// apply folds one event's lifecycle effects into the meta record.
// Called only from the store's single-writer path and from replay.
func (m *RunMeta) apply(ev event.Event) {
	switch ev.Kind {
	case event.KindNodeStart:
		if n := m.node(ev.NodeName); n != nil {
			n.Status = NodeStatusRunning
			n.StartedAt = ev.Timestamp
			m.ActiveNode = ev.NodeName
		}

	case event.KindNodeEnd:
		if n := m.node(ev.NodeName); n != nil {
			n.Status = NodeStatusCompleted
			if !n.StartedAt.IsZero() && !ev.Timestamp.Before(n.StartedAt) {
				n.DurationMS = ev.Timestamp.Sub(n.StartedAt).Milliseconds()
			}
			if m.ActiveNode == ev.NodeName {
				m.ActiveNode = ""
			}
		}

	case event.KindNodeError:
		if n := m.node(ev.NodeName); n != nil {
			n.Status = NodeStatusFailed
			n.Error = ev.ErrorMessage()
			if m.ActiveNode == ev.NodeName {
				m.ActiveNode = ""
			}
		}

	case event.KindEdgeTraversal, event.KindConditionalBranch:
		if n := m.node(traversalTarget(ev)); n != nil {
			n.Traversals++
		}

	case event.KindParallelStart:
		m.ParallelDepth++

	case event.KindParallelEnd:
		if m.ParallelDepth > 0 {
			m.ParallelDepth--
		}

	case event.KindGraphEnd:
		m.ActiveNode = ""
		m.Finished = true
	}
}

// traversalTarget names the node an edge or branch event leads into.
// The producer puts the destination in the payload's to field; older
// producers only set node_name.
func traversalTarget(ev event.Event) string {
	if obj, ok := ev.Payload.(state.Object); ok {
		if to, ok := obj["to"].(state.String); ok && to != "" {
			return string(to)
		}
	}
	return ev.NodeName
}
