// Package testutil provides deterministic fixtures for store and
// transport tests: a manual wall clock and compact event builders.
package testutil

import (
	"fmt"
	"time"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// epoch anchors synthetic event timestamps; event N is stamped N
// seconds after it, so node durations come out as round numbers.
var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// MakeEvent builds a test event with a timestamp derived from n.
// payloadJSON may be empty for payload-free kinds. Panics on malformed
// payload JSON; test fixtures are not a place for error returns.
func MakeEvent(thread string, n int64, kind event.Kind, node, payloadJSON string) event.Event {
	ev := event.Event{
		ThreadID:  thread,
		Seq:       seq.FromInt(n),
		Kind:      kind,
		NodeName:  node,
		Timestamp: epoch.Add(time.Duration(n) * time.Second),
	}
	if payloadJSON != "" {
		payload, err := state.Decode([]byte(payloadJSON))
		if err != nil {
			panic(fmt.Sprintf("testutil: bad payload %q: %v", payloadJSON, err))
		}
		ev.Payload = payload
	}
	return ev
}

// UpdateEvent builds a state_update merging valuesJSON into the
// top-level state.
func UpdateEvent(thread string, n int64, valuesJSON string) event.Event {
	return MakeEvent(thread, n, event.KindStateUpdate, "",
		fmt.Sprintf(`{"values":%s}`, valuesJSON))
}

// SnapshotEvent builds a state_snapshot replacing the state with
// stateJSON.
func SnapshotEvent(thread string, n int64, stateJSON string) event.Event {
	return MakeEvent(thread, n, event.KindStateSnapshot, "",
		fmt.Sprintf(`{"state":%s}`, stateJSON))
}
