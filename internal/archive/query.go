package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
)

// Query filters recorded events. Zero-valued fields do not constrain;
// sequence bounds are inclusive.
type Query struct {
	ThreadID string
	Kinds    []event.Kind
	NodeName string
	FromSeq  seq.Seq
	ToSeq    seq.Seq
	Limit    int
}

// build compiles the query into a WHERE clause and its arguments.
// Sequence comparisons use the (LENGTH(seq), seq) expansion so decimal
// strings compare numerically under ordinary string operators.
func (q Query) build() (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if q.ThreadID != "" {
		clauses = append(clauses, "thread_id = ?")
		args = append(args, q.ThreadID)
	}
	if len(q.Kinds) > 0 {
		placeholders := strings.Repeat("?, ", len(q.Kinds)-1) + "?"
		clauses = append(clauses, fmt.Sprintf("kind IN (%s)", placeholders))
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if q.NodeName != "" {
		clauses = append(clauses, "node_name = ?")
		args = append(args, q.NodeName)
	}
	if q.FromSeq.IsReal() {
		from := q.FromSeq.String()
		clauses = append(clauses, "(LENGTH(seq) > ? OR (LENGTH(seq) = ? AND seq >= ?))")
		args = append(args, len(from), len(from), from)
	}
	if q.ToSeq.IsReal() {
		to := q.ToSeq.String()
		clauses = append(clauses, "(LENGTH(seq) < ? OR (LENGTH(seq) = ? AND seq <= ?))")
		args = append(args, len(to), len(to), to)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

// Events returns the recorded events matching q in ascending sequence
// order, across threads when no thread is named.
func (a *Archive) Events(ctx context.Context, q Query) ([]event.Event, error) {
	where, args := q.build()

	sqlText := fmt.Sprintf(`
		SELECT thread_id, seq, kind, node_name, timestamp_us, payload, state_hash
		FROM events
		%s
		ORDER BY thread_id ASC, LENGTH(seq) ASC, seq ASC
	`, where)
	if q.Limit > 0 {
		sqlText += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := a.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// Count returns how many recorded events match q.
func (a *Archive) Count(ctx context.Context, q Query) (int, error) {
	where, args := q.build()

	var n int
	err := a.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM events %s", where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
