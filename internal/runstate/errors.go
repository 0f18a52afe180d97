package runstate

import (
	"errors"
	"fmt"

	"github.com/rewindhq/rewind/internal/seq"
)

// StoreError represents a failure the store reports instead of guessing.
//
// Store errors include:
//   - Stale sequence: an event at or below the run's high-water mark
//   - History gap: a reconstruction target outside the retained window
//   - Hash mismatch: a checkpoint whose digest no longer matches its state
//   - Oversized state: a snapshot or full-state payload over its byte ceiling
//
// StoreError includes structured fields for diagnostics and recovery.
type StoreError struct {
	// Code identifies the error category.
	Code StoreErrorCode

	// Message is a human-readable description.
	Message string

	// ThreadID identifies the affected run.
	ThreadID string

	// Seq identifies the sequence number involved (target or event seq).
	Seq seq.Seq

	// OldestAvailable is the earliest reconstructable sequence
	// (for gap errors).
	OldestAvailable seq.Seq

	// Details contains additional context.
	Details map[string]string
}

// StoreErrorCode categorizes store errors.
type StoreErrorCode string

const (
	// ErrCodeStaleSeq indicates an event's seq was not strictly greater
	// than the run's high-water mark.
	ErrCodeStaleSeq StoreErrorCode = "STALE_SEQ"

	// ErrCodeHistoryGap indicates the reconstruction target predates the
	// retained event window.
	ErrCodeHistoryGap StoreErrorCode = "HISTORY_GAP"

	// ErrCodeCheckpointHashMismatch indicates a checkpoint failed its
	// integrity check.
	ErrCodeCheckpointHashMismatch StoreErrorCode = "CHECKPOINT_HASH_MISMATCH"

	// ErrCodeStateTooLarge indicates a state payload exceeded its
	// configured byte ceiling.
	ErrCodeStateTooLarge StoreErrorCode = "STATE_TOO_LARGE"

	// ErrCodeUnknownRun indicates no run exists for the requested thread.
	ErrCodeUnknownRun StoreErrorCode = "UNKNOWN_RUN"

	// ErrCodeMalformedEvent indicates an event failed structural
	// validation.
	ErrCodeMalformedEvent StoreErrorCode = "MALFORMED_EVENT"
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ThreadID != "" && e.Seq.IsReal() {
		return fmt.Sprintf("%s: %s (thread=%s, seq=%s)", e.Code, e.Message, e.ThreadID, e.Seq)
	}
	if e.ThreadID != "" {
		return fmt.Sprintf("%s: %s (thread=%s)", e.Code, e.Message, e.ThreadID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsGap returns true if the error reports unavailable history.
// Uses errors.As to handle wrapped errors.
func IsGap(err error) bool {
	return hasCode(err, ErrCodeHistoryGap)
}

// IsStale returns true if the error reports a stale sequence number.
func IsStale(err error) bool {
	return hasCode(err, ErrCodeStaleSeq)
}

// IsUnknownRun returns true if the error reports a missing run.
func IsUnknownRun(err error) bool {
	return hasCode(err, ErrCodeUnknownRun)
}

func hasCode(err error, code StoreErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewGapError creates a StoreError for a reconstruction target outside
// the retained event window.
func NewGapError(threadID string, target, oldest seq.Seq) *StoreError {
	return &StoreError{
		Code:            ErrCodeHistoryGap,
		Message:         "state at this point is unavailable",
		ThreadID:        threadID,
		Seq:             target,
		OldestAvailable: oldest,
		Details: map[string]string{
			"oldest_available": oldest.String(),
		},
	}
}

// NewStaleSeqError creates a StoreError for an event that does not
// advance the run's high-water mark.
func NewStaleSeqError(threadID string, eventSeq, highWater seq.Seq) *StoreError {
	return &StoreError{
		Code:     ErrCodeStaleSeq,
		Message:  fmt.Sprintf("event seq %s is not greater than high-water %s", eventSeq, highWater),
		ThreadID: threadID,
		Seq:      eventSeq,
	}
}

// NewUnknownRunError creates a StoreError for a thread the store is not
// observing.
func NewUnknownRunError(threadID string) *StoreError {
	return &StoreError{
		Code:     ErrCodeUnknownRun,
		Message:  "run is not observed",
		ThreadID: threadID,
	}
}
