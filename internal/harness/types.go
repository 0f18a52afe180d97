package harness

import (
	"encoding/json"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
)

// TraceEvent records how the store disposed of one ingested event.
type TraceEvent struct {
	Seq  string `json:"seq"`
	Kind string `json:"kind"`
	Node string `json:"node,omitempty"`

	Applied      bool `json:"applied"`
	Pending      bool `json:"pending,omitempty"`
	Reconciled   bool `json:"reconciled,omitempty"`
	Checkpointed bool `json:"checkpointed,omitempty"`

	// Rejected carries the store error code when the event was refused.
	Rejected string `json:"rejected,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success. True if every expectation held.
	Pass bool `json:"pass"`

	// Errors contains failed-expectation messages. Empty if Pass is
	// true.
	Errors []string `json:"errors,omitempty"`

	// Trace records the store's disposition of each event in order.
	Trace []TraceEvent `json:"trace"`

	// Final carries the canonical JSON of the scenario thread's closing
	// view model, when the run is still observable. Golden comparison
	// pins these bytes.
	Final json.RawMessage `json:"final,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
	}
}

// AddError adds a failed-expectation message and marks the result as
// failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// addTrace appends the store's disposition of one event.
func (r *Result) addTrace(ev event.Event, res runstate.IngestResult) {
	entry := TraceEvent{
		Seq:          ev.Seq.String(),
		Kind:         string(ev.Kind),
		Node:         ev.NodeName,
		Applied:      res.Applied,
		Pending:      res.Pending,
		Reconciled:   res.Reconciled,
		Checkpointed: res.Checkpointed,
		Warnings:     res.Warnings,
	}
	if res.Rejected != nil {
		entry.Rejected = string(res.Rejected.Code)
	}
	r.Trace = append(r.Trace, entry)
}
