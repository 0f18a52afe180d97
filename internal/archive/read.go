package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// ReadStream returns every recorded event for a thread in ascending
// sequence order.
//
// Returns an empty slice (not nil) if no events exist for the thread.
func (a *Archive) ReadStream(ctx context.Context, threadID string) ([]event.Event, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT thread_id, seq, kind, node_name, timestamp_us, payload, state_hash
		FROM events
		WHERE thread_id = ?
		ORDER BY LENGTH(seq) ASC, seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []event.Event{}
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		thread, seqText, kind, node, stateHash string
		timestampUS                            int64
		payload                                sql.NullString
	)
	if err := rows.Scan(&thread, &seqText, &kind, &node, &timestampUS, &payload, &stateHash); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}

	sq, err := seq.Parse(seqText)
	if err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}

	ev := event.Event{
		ThreadID:  thread,
		Seq:       sq,
		Kind:      event.Kind(kind),
		NodeName:  node,
		Timestamp: time.UnixMicro(timestampUS).UTC(),
		StateHash: stateHash,
	}
	if payload.Valid {
		value, err := state.Decode([]byte(payload.String))
		if err != nil {
			return event.Event{}, fmt.Errorf("scan event payload: %w", err)
		}
		ev.Payload = value
	}
	return ev, nil
}

// StreamSummary describes one recorded thread.
type StreamSummary struct {
	ThreadID string    `json:"thread_id"`
	Events   int       `json:"events"`
	FirstSeq seq.Seq   `json:"first_seq"`
	LastSeq  seq.Seq   `json:"last_seq"`
	LastSeen time.Time `json:"last_seen"`
}

// Threads lists recorded streams ordered by thread id.
func (a *Archive) Threads(ctx context.Context) ([]StreamSummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT e.thread_id,
		       COUNT(*),
		       (SELECT seq FROM events f
		        WHERE f.thread_id = e.thread_id
		        ORDER BY LENGTH(seq) ASC, seq ASC LIMIT 1),
		       (SELECT seq FROM events l
		        WHERE l.thread_id = e.thread_id
		        ORDER BY LENGTH(seq) DESC, seq DESC LIMIT 1),
		       MAX(e.timestamp_us)
		FROM events e
		GROUP BY e.thread_id
		ORDER BY e.thread_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var summaries []StreamSummary
	for rows.Next() {
		var (
			thread, first, last string
			count               int
			lastUS              int64
		)
		if err := rows.Scan(&thread, &count, &first, &last, &lastUS); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}

		firstSeq, err := seq.Parse(first)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		lastSeq, err := seq.Parse(last)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}

		summaries = append(summaries, StreamSummary{
			ThreadID: thread,
			Events:   count,
			FirstSeq: firstSeq,
			LastSeq:  lastSeq,
			LastSeen: time.UnixMicro(lastUS).UTC(),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	if summaries == nil {
		summaries = []StreamSummary{}
	}
	return summaries, nil
}
