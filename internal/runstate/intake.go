package runstate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rewindhq/rewind/internal/event"
)

// intakeQueue is a thread-safe FIFO of decoded events.
//
// The queue is unbounded; the producer's event rate is bounded upstream
// and the store's per-run buffers cap retained memory, so blocking the
// transport goroutines would only add latency.
//
// The signal channel (buffered, size 1) coalesces wakeups and lets the
// Run loop wait with context awareness.
type intakeQueue struct {
	mu     sync.Mutex
	events []event.Event
	closed bool
	signal chan struct{}
}

func newIntakeQueue() *intakeQueue {
	return &intakeQueue{
		events: make([]event.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *intakeQueue) enqueue(ev event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue attempts to dequeue without blocking.
func (q *intakeQueue) tryDequeue() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event.Event{}, false
	}

	ev := q.events[0]

	// Nil out the slot so the dequeued event's payload is collectable
	// before the backing array is reallocated.
	q.events[0] = event.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return ev, true
}

func (q *intakeQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *intakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// drained reports whether the queue is closed with nothing left in it.
func (q *intakeQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// close wakes all waiters; enqueue refuses afterwards.
func (q *intakeQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Intake is the single-consumer feed in front of Store.Ingest.
//
// Push transports decode events on their own goroutines and Enqueue
// here; exactly one Run loop drains the queue into the store in arrival
// order. That keeps the "no concurrent writers to the same run"
// discipline in one place instead of in every transport.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Intake struct {
	store *Store
	queue *intakeQueue
	log   *slog.Logger

	// observers receive each ingest result after the store processed the
	// event (stream fan-out, archive writers). Called from the Run
	// goroutine; observers must not block.
	observers []func(event.Event, IngestResult)
}

// IntakeOption configures an Intake.
type IntakeOption func(*Intake)

// WithIntakeLogger directs the intake's diagnostics.
func WithIntakeLogger(log *slog.Logger) IntakeOption {
	return func(in *Intake) { in.log = log }
}

// WithObserver registers a post-ingest callback.
func WithObserver(fn func(event.Event, IngestResult)) IntakeOption {
	return func(in *Intake) { in.observers = append(in.observers, fn) }
}

// NewIntake creates an intake feeding store.
func NewIntake(store *Store, opts ...IntakeOption) *Intake {
	in := &Intake{
		store: store,
		queue: newIntakeQueue(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Enqueue submits an event for ingestion. Returns false after Stop.
func (in *Intake) Enqueue(ev event.Event) bool {
	return in.queue.enqueue(ev)
}

// Len returns the number of queued events.
func (in *Intake) Len() int {
	return in.queue.len()
}

// Run drains the queue into the store until ctx is cancelled or Stop
// closes the queue. Per-event failures are reported by the store and
// processing continues; an event that cannot be ingested is not worth
// stalling the stream for.
func (in *Intake) Run(ctx context.Context) error {
	in.log.Info("intake starting")

	for {
		ev, ok := in.queue.tryDequeue()
		if ok {
			res := in.store.Ingest(ev)
			for _, fn := range in.observers {
				fn(ev, res)
			}
			continue
		}

		select {
		case <-ctx.Done():
			in.log.Info("intake stopping", "reason", "context cancelled")
			in.queue.close()
			return ctx.Err()

		case <-in.queue.wait():
			// The signal channel closes when the queue closes, so this
			// case fires immediately on shutdown. A leftover wakeup for an
			// event the loop already drained goes back to waiting.
			if in.queue.drained() {
				in.log.Info("intake stopping", "reason", "queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue, causing Run to drain and return.
func (in *Intake) Stop() {
	in.queue.close()
}
