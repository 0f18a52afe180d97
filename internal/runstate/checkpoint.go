package runstate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// Checkpoint is a captured (state, meta) pair at a known sequence
// number. State and Meta are deep clones owned by the checkpoint; the
// run's live state never aliases them.
type Checkpoint struct {
	ID        uuid.UUID
	Seq       seq.Seq
	State     state.Value
	Meta      RunMeta
	StateHash string
	Unsafe    bool
	SizeBytes int64
	CreatedAt time.Time
}

// verify recomputes the checkpoint's digest and compares it to the one
// recorded at capture time. A mismatch means the snapshot can no longer
// be trusted as a replay base.
func (c Checkpoint) verify() bool {
	return state.Hash(c.State).Hex() == c.StateHash
}

// CheckpointSummary describes a checkpoint without carrying its state.
type CheckpointSummary struct {
	ID        uuid.UUID `json:"id"`
	Seq       seq.Seq   `json:"seq"`
	StateHash string    `json:"state_hash"`
	Unsafe    bool      `json:"unsafe_numbers"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Checkpoint) summary() CheckpointSummary {
	return CheckpointSummary{
		ID:        c.ID,
		Seq:       c.Seq,
		StateHash: c.StateHash,
		Unsafe:    c.Unsafe,
		SizeBytes: c.SizeBytes,
		CreatedAt: c.CreatedAt,
	}
}

// CheckpointIDGenerator issues checkpoint identifiers.
// Implemented by UUIDv7Generator (production) and FixedIDGenerator (tests).
type CheckpointIDGenerator interface {
	Generate() uuid.UUID
}

// UUIDv7Generator generates time-sortable UUIDv7 checkpoint ids, so a
// checkpoint listing sorts by creation time even across runs.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// FixedIDGenerator returns predetermined ids for testing, enabling
// deterministic checkpoint listings and golden comparisons.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []uuid.UUID
	idx int
}

// NewFixedIDGenerator creates a generator that returns ids in order,
// then wraps.
func NewFixedIDGenerator(ids ...uuid.UUID) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedIDGenerator) Generate() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return uuid.Nil
	}
	id := g.ids[g.idx%len(g.ids)]
	g.idx++
	return id
}
