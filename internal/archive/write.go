package archive

import (
	"context"
	"fmt"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/state"
)

// WriteEvent records one event. Returns inserted=false without error
// when the event was already recorded (same thread and seq) or when its
// seq is not a real producer sequence; synthetic placeholders and
// unassigned seqs are in-memory concerns and never become history.
//
// Uses ON CONFLICT DO NOTHING for idempotency - re-recording a stream
// is safe and duplicate rows are silently ignored.
//
// The payload is serialized in canonical form, so recorded bytes are
// deterministic for a given logical value.
func (a *Archive) WriteEvent(ctx context.Context, ev event.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}
	if !ev.Seq.IsReal() {
		return false, nil
	}

	var payload any
	if ev.Payload != nil {
		payload = string(state.AppendCanonical(nil, ev.Payload))
	}

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO events
		(thread_id, seq, kind, node_name, timestamp_us, payload, state_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, seq) DO NOTHING
	`,
		ev.ThreadID,
		ev.Seq.String(),
		string(ev.Kind),
		ev.NodeName,
		ev.Timestamp.UnixMicro(),
		payload,
		ev.StateHash,
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}
	return n > 0, nil
}

// WriteStream records a batch of events in one transaction. Either the
// whole batch lands or none of it does.
func (a *Archive) WriteStream(ctx context.Context, events []event.Event) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write stream: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(thread_id, seq, kind, node_name, timestamp_us, payload, state_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, seq) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("write stream: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, fmt.Errorf("write stream: %w", err)
		}
		if !ev.Seq.IsReal() {
			continue
		}

		var payload any
		if ev.Payload != nil {
			payload = string(state.AppendCanonical(nil, ev.Payload))
		}

		res, err := stmt.ExecContext(ctx,
			ev.ThreadID,
			ev.Seq.String(),
			string(ev.Kind),
			ev.NodeName,
			ev.Timestamp.UnixMicro(),
			payload,
			ev.StateHash,
		)
		if err != nil {
			return 0, fmt.Errorf("write stream: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write stream: %w", err)
	}
	return inserted, nil
}

// DeleteStream removes every recorded event for a thread. Returns the
// number of rows deleted.
func (a *Archive) DeleteStream(ctx context.Context, threadID string) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM events WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stream: %w", err)
	}
	return n, nil
}
