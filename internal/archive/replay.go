package archive

import (
	"context"
	"fmt"

	"github.com/rewindhq/rewind/internal/event"
)

// ReplayInto feeds a recorded stream, in ascending sequence order, to
// apply. It stops at the first apply error or context cancellation and
// reports how many events were delivered.
//
// Replaying a stream into a fresh store reproduces the exact state the
// live ingest built, which is what makes the archive a full ingress:
// the store cannot tell recorded history from a live feed.
func (a *Archive) ReplayInto(ctx context.Context, threadID string, apply func(event.Event) error) (int, error) {
	events, err := a.ReadStream(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("replay %s: %w", threadID, err)
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("replay %s: %w", threadID, err)
		}
		if err := apply(ev); err != nil {
			return i, fmt.Errorf("replay %s at seq %s: %w", threadID, ev.Seq, err)
		}
	}
	return len(events), nil
}
