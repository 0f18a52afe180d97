package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// wireEvent mirrors the producer's JSON envelope. Fields the store does
// not consume (tenant_id, schema_version, message_id) are ignored on
// decode and omitted on encode.
type wireEvent struct {
	ThreadID    string          `json:"thread_id"`
	Sequence    seq.Seq         `json:"sequence"`
	TimestampUS int64           `json:"timestamp_us"`
	Type        string          `json:"type"`
	NodeName    string          `json:"node_name,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	StateHash   string          `json:"state_hash,omitempty"`
}

// DecodeWire parses one producer envelope. Envelope-level JSON errors, an
// unparsable sequence, a missing thread id, and an unknown type all fail
// the decode; callers drop such events with a warning rather than
// aborting the stream.
func DecodeWire(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	ev := Event{
		ThreadID:  w.ThreadID,
		Seq:       w.Sequence,
		Kind:      Kind(w.Type),
		NodeName:  w.NodeName,
		Timestamp: time.UnixMicro(w.TimestampUS).UTC(),
		StateHash: w.StateHash,
	}

	if len(w.Payload) > 0 && !bytes.Equal(w.Payload, []byte("null")) {
		payload, err := state.Decode(w.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("decode event payload: %w", err)
		}
		ev.Payload = payload
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// EncodeWire serializes ev back into the producer envelope. The payload is
// emitted in canonical form, so encode-decode round trips preserve the
// event's observable identity.
func (e Event) EncodeWire() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	w := wireEvent{
		ThreadID:    e.ThreadID,
		Sequence:    e.Seq,
		TimestampUS: e.Timestamp.UnixMicro(),
		Type:        string(e.Kind),
		NodeName:    e.NodeName,
		StateHash:   e.StateHash,
	}
	if e.Payload != nil {
		w.Payload = json.RawMessage(state.AppendCanonical(nil, e.Payload))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}
