package runstate

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// Reconstruction is the result of rebuilding a run's state at a
// historical sequence number. State and Meta are owned by the caller;
// they never alias the run's live data or any checkpoint.
type Reconstruction struct {
	ThreadID string

	// Target is the requested position; Seq is the position actually
	// reached, the newest applied event at or below Target.
	Target seq.Seq
	Seq    seq.Seq

	State state.Value
	Meta  RunMeta

	// BaseCheckpoint identifies the checkpoint replay started from.
	// uuid.Nil means replay started from the empty initial state.
	BaseCheckpoint uuid.UUID

	// Replayed counts events applied on top of the base.
	// SkippedCheckpoints counts newer checkpoints rejected by integrity
	// verification before the base was chosen.
	Replayed           int
	SkippedCheckpoints int

	// Live is set when the target was at or past the run's high-water
	// mark, so the result is a copy of the live state rather than a
	// replay product.
	Live bool
}

// reconstructAt rebuilds state and meta at target. Caller holds the
// store lock.
//
// Base selection walks checkpoints newest-first: the first one at or
// below target whose digest still matches its state wins. A mismatched
// checkpoint is skipped, not repaired; serving a possibly-wrong state
// silently would defeat the point of hashing. When no checkpoint
// qualifies, replay starts from the empty initial state.
//
// The gap rule: with base chosen, the reconstruction needs every
// buffered event in (base, target]. If eviction has consumed any of
// that range (trimmedThrough > base) and there is anything to replay
// (target > base), the history is gone and the caller gets an explicit
// gap error instead of an approximation.
func (r *RunState) reconstructAt(target seq.Seq, log *slog.Logger) (Reconstruction, error) {
	if target.Compare(r.highWater) >= 0 {
		return Reconstruction{
			ThreadID: r.threadID,
			Target:   target,
			Seq:      r.highWater,
			State:    state.Clone(r.live),
			Meta:     r.meta.Clone(),
			Live:     true,
		}, nil
	}

	rec := Reconstruction{
		ThreadID:       r.threadID,
		Target:         target,
		Meta:           NewRunMeta(),
		BaseCheckpoint: uuid.Nil,
	}

	var base seq.Seq
	for i := len(r.checkpoints) - 1; i >= 0; i-- {
		cp := r.checkpoints[i]
		if cp.Seq.Compare(target) > 0 {
			continue
		}
		if !cp.verify() {
			rec.SkippedCheckpoints++
			log.Warn("checkpoint failed verification, falling back",
				"thread", r.threadID,
				"checkpoint_id", cp.ID.String(),
				"seq", cp.Seq.String(),
			)
			continue
		}
		base = cp.Seq
		rec.Seq = cp.Seq
		rec.State = state.Clone(cp.State)
		rec.Meta = cp.Meta.Clone()
		rec.BaseCheckpoint = cp.ID
		break
	}

	if r.trimmedThrough.Compare(base) > 0 && target.Compare(base) > 0 {
		return Reconstruction{}, NewGapError(r.threadID, target, r.oldestAvailable())
	}

	for _, ev := range r.events {
		if ev.Seq.Compare(base) <= 0 {
			continue
		}
		if ev.Seq.Compare(target) > 0 {
			break
		}
		rec.State = event.ApplyState(rec.State, ev)
		rec.Meta.apply(ev)
		rec.Seq = ev.Seq
		rec.Replayed++
	}

	return rec, nil
}

// oldestAvailable reports the earliest sequence a reconstruction can
// still reach: the oldest retained checkpoint, or only the live
// position once eviction has outrun every checkpoint.
func (r *RunState) oldestAvailable() seq.Seq {
	if len(r.checkpoints) > 0 {
		return r.checkpoints[0].Seq
	}
	return r.highWater
}
