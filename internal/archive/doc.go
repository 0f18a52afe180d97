// Package archive provides SQLite-backed durable storage for recorded
// event streams.
//
// The archive implements an append-only log keyed by (thread_id, seq):
//   - one row per producer-confirmed event, payload in canonical JSON
//   - synthetic placeholders are never recorded
//   - re-recording a stream is idempotent (ON CONFLICT DO NOTHING)
//
// # Ordering
//
// Sequence numbers are decimal strings of arbitrary precision. Every
// read orders by LENGTH(seq) ASC, seq ASC, which sorts non-negative
// decimals numerically without parsing; an expression index backs it.
// Wall-clock timestamps are carried for display only and never used
// for ordering.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package archive
