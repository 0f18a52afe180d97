// Package runstate implements the bounded, event-sourced store for
// observed runs.
//
// ARCHITECTURE:
//
// Single-Writer Ingest:
// All mutation flows through Store.Ingest, fed by one Intake loop.
// Transports (WebSocket, HTTP, file replay) only decode and enqueue.
// This ensures:
//   - events for a run apply in arrival order
//   - checkpoint cadence is deterministic for a given stream
//   - replay never races a concurrent write
//
// Checkpoint + Replay:
// Reconstruction at seq N starts from the newest trusted checkpoint at
// or below N and replays buffered events (base, N] through the same
// ApplyState path live ingest uses. Checkpoints are therefore a pure
// optimization: a reconstruction with checkpoints is observationally
// identical to replaying every event from the empty initial state.
// Tests pin this equivalence with the structural differ as the oracle.
//
// Trust and Degradation:
//   - a checkpoint is verified against its recorded digest before use;
//     on mismatch it is skipped for the next older one, never repaired
//   - history outside the retained window is reported as an explicit
//     gap, never approximated
//   - malformed events degrade to warnings; nothing in the ingest path
//     can take the store down
//
// Everything handed out (views, reconstructions, summaries) is a deep
// copy. Consumers can hold results across later ingests without
// observing mutation, and an abandoned scrub leaves no trace.
package runstate
