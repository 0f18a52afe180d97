package runstate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// Store holds the bounded set of observed runs.
//
// Thread-safety model:
//   - every public method is safe from any goroutine; a single mutex
//     serializes all run mutation and materialization
//   - the single-writer ingest discipline is Intake's job; the mutex
//     makes violations safe, just not cheap
//
// Nothing the store returns aliases its internals. Views and
// reconstructions carry deep copies, so a caller abandoning a replay
// mid-scrub leaves no trace.
type Store struct {
	mu   sync.Mutex
	runs map[string]*RunState

	opts       config.Options
	idGen      CheckpointIDGenerator
	reconciler Reconciler
	expected   map[string]bool
	now        func() time.Time
	log        *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger directs the store's diagnostics. Default slog.Default().
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// WithIDGenerator substitutes the checkpoint id source, fixed ids in
// tests.
func WithIDGenerator(gen CheckpointIDGenerator) StoreOption {
	return func(s *Store) { s.idGen = gen }
}

// WithClock substitutes the wall clock, frozen time in tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithReconciler substitutes the placeholder reconciliation policy.
func WithReconciler(rec Reconciler) StoreOption {
	return func(s *Store) { s.reconciler = rec }
}

// WithExpectedNodes declares the manifest's node set, unioned with each
// run's own graph_start declaration for drift checks.
func WithExpectedNodes(names []string) StoreOption {
	return func(s *Store) {
		if len(names) == 0 {
			return
		}
		s.expected = make(map[string]bool, len(names))
		for _, name := range names {
			s.expected[norm.NFC.String(name)] = true
		}
	}
}

// New creates an empty store bounded by opts.
func New(opts config.Options, options ...StoreOption) *Store {
	s := &Store{
		runs:       make(map[string]*RunState),
		opts:       opts,
		idGen:      UUIDv7Generator{},
		reconciler: KindNodeReconciler{},
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Ingest routes one event to its run, creating the run on first
// contact and evicting the least recently active run past the MaxRuns
// bound. Rejections are reported in the result, never panicked or
// dropped silently.
func (s *Store) Ingest(ev event.Event) IngestResult {
	if err := ev.Validate(); err != nil {
		res := IngestResult{ThreadID: ev.ThreadID, Seq: ev.Seq, Rejected: &StoreError{
			Code:     ErrCodeMalformedEvent,
			Message:  err.Error(),
			ThreadID: ev.ThreadID,
			Seq:      ev.Seq,
		}}
		s.log.Warn("malformed event rejected", "thread", ev.ThreadID, "error", err)
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r, ok := s.runs[ev.ThreadID]
	created := false
	if !ok {
		s.evictForCapacity()
		r = newRunState(ev.ThreadID, now)
		s.runs[ev.ThreadID] = r
		created = true
		s.log.Info("run observed", "thread", ev.ThreadID)
	}

	res := r.ingest(ev, s.opts, s.idGen, s.reconciler, now, s.log)
	res.Created = created
	return res
}

// evictForCapacity drops least-recently-active runs until a new one
// fits. Caller holds the lock.
func (s *Store) evictForCapacity() {
	for len(s.runs) >= s.opts.MaxRuns {
		victim := ""
		var oldest time.Time
		for id, r := range s.runs {
			if victim == "" || r.lastActive.Before(oldest) {
				victim, oldest = id, r.lastActive
			}
		}
		if victim == "" {
			return
		}
		delete(s.runs, victim)
		s.log.Info("run evicted", "thread", victim)
	}
}

// ReconstructAt rebuilds threadID's state at target. Past the run's
// high-water mark the result is a copy of the live state; historical
// targets go through checkpoint selection and replay. Unavailable
// history comes back as a HISTORY_GAP StoreError.
func (s *Store) ReconstructAt(threadID string, target seq.Seq) (Reconstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[threadID]
	if !ok {
		return Reconstruction{}, NewUnknownRunError(threadID)
	}
	return r.reconstructAt(target, s.log)
}

// ViewAt materializes threadID at target as a GraphViewModel.
func (s *Store) ViewAt(threadID string, target seq.Seq) (GraphViewModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[threadID]
	if !ok {
		return GraphViewModel{}, NewUnknownRunError(threadID)
	}
	return r.viewAt(target, s.expected, s.log)
}

// LiveView materializes threadID at its newest position.
func (s *Store) LiveView(threadID string) (GraphViewModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[threadID]
	if !ok {
		return GraphViewModel{}, NewUnknownRunError(threadID)
	}
	return r.viewAt(r.highWater, s.expected, s.log)
}

// Diff reports the JSON Pointer paths at which the state at to differs
// from the state at from. Both positions obey the same availability
// rules as ReconstructAt.
func (s *Store) Diff(threadID string, from, to seq.Seq) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[threadID]
	if !ok {
		return nil, NewUnknownRunError(threadID)
	}

	older, err := r.reconstructAt(from, s.log)
	if err != nil {
		return nil, err
	}
	newer, err := r.reconstructAt(to, s.log)
	if err != nil {
		return nil, err
	}
	return state.Diff(newer.State, older.State), nil
}

// RunSummary describes one observed run without carrying its state.
type RunSummary struct {
	ThreadID     string    `json:"thread_id"`
	HighWater    seq.Seq   `json:"high_water"`
	Events       int       `json:"events"`
	Checkpoints  int       `json:"checkpoints"`
	PendingLocal int       `json:"pending_local"`
	ActiveNode   string    `json:"active_node,omitempty"`
	Finished     bool      `json:"finished"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActive   time.Time `json:"last_active"`
}

// Runs lists observed runs, most recently active first.
func (s *Store) Runs() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, RunSummary{
			ThreadID:     r.threadID,
			HighWater:    r.highWater,
			Events:       len(r.events),
			Checkpoints:  len(r.checkpoints),
			PendingLocal: len(r.pending),
			ActiveNode:   r.meta.ActiveNode,
			Finished:     r.meta.Finished,
			FirstSeen:    r.firstSeen,
			LastActive:   r.lastActive,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].LastActive.After(out[j].LastActive)
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// Checkpoints lists threadID's retained checkpoints, oldest first.
func (s *Store) Checkpoints(threadID string) ([]CheckpointSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[threadID]
	if !ok {
		return nil, NewUnknownRunError(threadID)
	}
	out := make([]CheckpointSummary, len(r.checkpoints))
	for i, cp := range r.checkpoints {
		out[i] = cp.summary()
	}
	return out, nil
}

// Remove disposes of a run the consumer no longer observes. Returns
// false when the run was not present.
func (s *Store) Remove(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[threadID]; !ok {
		return false
	}
	delete(s.runs, threadID)
	s.log.Info("run removed", "thread", threadID)
	return true
}
