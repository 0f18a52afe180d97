package runstate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// RunState owns everything the store tracks for one observed run: the
// bounded event buffer, the checkpoint list, the live materialized
// state, and the lifecycle meta.
//
// RunState has no lock of its own. The Store serializes all access,
// and nothing outside this package holds a *RunState.
type RunState struct {
	threadID string

	events      []event.Event
	checkpoints []Checkpoint
	live        state.Value
	meta        RunMeta

	// highWater is the seq of the newest applied event. trimmedThrough is
	// the seq of the newest event evicted from the buffer; everything at
	// or below it is reconstructable only through a checkpoint.
	highWater      seq.Seq
	trimmedThrough seq.Seq

	sinceSnapshot int

	// hashMismatches counts producer hash checks that failed. Run-level,
	// not part of replayed meta; every view reports the same total.
	hashMismatches int

	// pending holds synthetic placeholders. They are never applied to the
	// live state and never replayed; a matching real event retires them.
	pending []event.Event

	// schema is the expected node set, NFC-normalized. Nil until a
	// graph_start declares nodes. schemaDisabled is set when the declared
	// schema exceeded its size ceiling.
	schema         map[string]bool
	schemaDisabled bool

	// lastServed is the state of the previous materialization handed to a
	// consumer, kept so the next view can report its change-set.
	lastServed state.Value

	firstSeen  time.Time
	lastActive time.Time
}

func newRunState(threadID string, now time.Time) *RunState {
	return &RunState{
		threadID:   threadID,
		meta:       NewRunMeta(),
		firstSeen:  now,
		lastActive: now,
	}
}

// IngestResult reports what one Ingest call did. Rejected is non-nil
// when the event was refused; everything else describes side effects of
// an accepted event.
type IngestResult struct {
	ThreadID string
	Seq      seq.Seq

	Applied      bool
	Created      bool
	Pending      bool
	Reconciled   bool
	Checkpointed bool

	Warnings []string
	Rejected *StoreError
}

// ingest applies one event to the run. Caller holds the store lock.
func (r *RunState) ingest(ev event.Event, opts config.Options, gen CheckpointIDGenerator, rec Reconciler, now time.Time, log *slog.Logger) IngestResult {
	res := IngestResult{ThreadID: r.threadID, Seq: ev.Seq}
	r.lastActive = now

	if ev.Seq.IsSynthetic() {
		r.pending = append(r.pending, ev)
		res.Pending = true
		log.Debug("placeholder pending",
			"thread", r.threadID,
			"seq", ev.Seq.String(),
			"kind", string(ev.Kind),
		)
		return res
	}

	if ev.Seq.Compare(r.highWater) <= 0 {
		res.Rejected = NewStaleSeqError(r.threadID, ev.Seq, r.highWater)
		log.Warn("stale event rejected",
			"thread", r.threadID,
			"seq", ev.Seq.String(),
			"high_water", r.highWater.String(),
			"kind", string(ev.Kind),
		)
		return res
	}

	if ev.Kind == event.KindGraphStart {
		r.seedSchema(ev, opts, log, &res)
	}

	applyState := true
	buffered := ev
	if full, ok := ev.FullState(); ok {
		if size := int64(len(state.AppendCanonical(nil, full))); size > opts.MaxFullStateSizeBytes {
			applyState = false
			// Replay walks the buffer through the same apply path, so the
			// buffered copy must repeat the drop, not resurrect the state.
			buffered.Payload = stripFullState(ev.Payload)
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"full state of %d bytes exceeds limit %d, state change dropped", size, opts.MaxFullStateSizeBytes))
			log.Warn("oversized full state dropped",
				"thread", r.threadID,
				"seq", ev.Seq.String(),
				"size_bytes", size,
				"limit_bytes", opts.MaxFullStateSizeBytes,
			)
		}
	}

	if applyState {
		r.live = event.ApplyState(r.live, ev)
	}
	r.meta.apply(ev)
	r.highWater = ev.Seq
	res.Applied = true

	r.events = append(r.events, buffered)
	for len(r.events) > opts.MaxEventsPerRun {
		r.trimmedThrough = r.events[0].Seq
		r.events[0] = event.Event{}
		r.events = r.events[1:]
	}

	if ev.StateHash != "" && ev.StateBearing() && applyState {
		if got := state.Hash(r.live).Hex(); !strings.EqualFold(got, ev.StateHash) {
			r.hashMismatches++
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"state hash mismatch at seq %s: producer %s, computed %s", ev.Seq, ev.StateHash, got))
			log.Warn("state hash mismatch",
				"thread", r.threadID,
				"seq", ev.Seq.String(),
				"producer_hash", ev.StateHash,
				"computed_hash", got,
			)
		}
	}

	if r.retirePending(ev, rec) {
		res.Reconciled = true
	}

	r.sinceSnapshot++
	forced := ev.Kind == event.KindProducerCheckpoint && applyState
	if forced || r.sinceSnapshot >= opts.CheckpointInterval {
		if r.snapshot(opts, gen, now, log) {
			res.Checkpointed = true
		}
		r.sinceSnapshot = 0
	}

	return res
}

// snapshot captures the live (state, meta) pair as a checkpoint.
// Returns false when the state exceeds its byte ceiling and no
// checkpoint was stored.
func (r *RunState) snapshot(opts config.Options, gen CheckpointIDGenerator, now time.Time, log *slog.Logger) bool {
	canonical := state.AppendCanonical(nil, r.live)
	size := int64(len(canonical))
	if size > opts.MaxCheckpointStateSizeBytes {
		log.Warn("checkpoint skipped, state too large",
			"thread", r.threadID,
			"seq", r.highWater.String(),
			"size_bytes", size,
			"limit_bytes", opts.MaxCheckpointStateSizeBytes,
		)
		return false
	}

	h := state.Hash(r.live)
	r.checkpoints = append(r.checkpoints, Checkpoint{
		ID:        gen.Generate(),
		Seq:       r.highWater,
		State:     state.Clone(r.live),
		Meta:      r.meta.Clone(),
		StateHash: h.Hex(),
		Unsafe:    h.HasUnsafeNumbers,
		SizeBytes: size,
		CreatedAt: now,
	})

	// FIFO eviction from the front. The newest checkpoint always
	// survives; it is the one the live state can be rebuilt from.
	for len(r.checkpoints) > opts.MaxCheckpointsPerRun && len(r.checkpoints) > 1 {
		r.checkpoints[0] = Checkpoint{}
		r.checkpoints = r.checkpoints[1:]
	}

	log.Debug("checkpoint captured",
		"thread", r.threadID,
		"seq", r.highWater.String(),
		"size_bytes", size,
		"retained", len(r.checkpoints),
	)
	return true
}

// seedSchema records the node set a graph_start declares. Names are
// NFC-normalized so drift checks are not fooled by equivalent Unicode
// spellings.
func (r *RunState) seedSchema(ev event.Event, opts config.Options, log *slog.Logger, res *IngestResult) {
	nodes := ev.DeclaredNodes()
	if len(nodes) == 0 {
		return
	}

	if obj, ok := ev.Payload.(state.Object); ok {
		if size := int64(len(state.AppendCanonical(nil, obj["nodes"]))); size > opts.MaxSchemaJSONSizeBytes {
			r.schemaDisabled = true
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"declared schema of %d bytes exceeds limit %d, drift reporting disabled", size, opts.MaxSchemaJSONSizeBytes))
			log.Warn("oversized schema dropped",
				"thread", r.threadID,
				"seq", ev.Seq.String(),
				"size_bytes", size,
				"limit_bytes", opts.MaxSchemaJSONSizeBytes,
			)
			return
		}
	}

	if r.schema == nil {
		r.schema = make(map[string]bool, len(nodes))
	}
	for _, name := range nodes {
		r.schema[norm.NFC.String(name)] = true
	}
}

// retirePending removes the first pending placeholder the reconciler
// matches against the arriving real event.
func (r *RunState) retirePending(ev event.Event, rec Reconciler) bool {
	for i, placeholder := range r.pending {
		if rec.Matches(placeholder, ev) {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

// stripFullState returns payload minus its state member, nil when
// nothing else remains.
func stripFullState(payload state.Value) state.Value {
	obj, ok := payload.(state.Object)
	if !ok {
		return nil
	}
	out := make(state.Object, len(obj))
	for k, v := range obj {
		if k != "state" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
