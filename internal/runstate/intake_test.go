package runstate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
	"github.com/rewindhq/rewind/internal/testutil"
)

func TestIntakeDrainsInArrivalOrder(t *testing.T) {
	s, _ := testStore(testOptions())

	var mu sync.Mutex
	var seen []string
	in := NewIntake(s,
		WithIntakeLogger(quietLogger()),
		WithObserver(func(ev event.Event, res IngestResult) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Seq.String())
		}),
	)

	done := make(chan error, 1)
	go func() { done <- in.Run(context.Background()) }()

	for i := int64(1); i <= 20; i++ {
		require.True(t, in.Enqueue(testutil.UpdateEvent("run-1", i, fmt.Sprintf(`{"n":%d}`, i))))
	}
	in.Stop()
	require.NoError(t, <-done, "queued events drain before shutdown")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 20)
	for i, got := range seen {
		assert.Equal(t, fmt.Sprint(i+1), got)
	}

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, `{"n":20}`, state.Canonicalize(vm.State))
}

func TestIntakeSerializesConcurrentProducers(t *testing.T) {
	s, _ := testStore(testOptions())
	in := NewIntake(s, WithIntakeLogger(quietLogger()))

	done := make(chan error, 1)
	go func() { done <- in.Run(context.Background()) }()

	const producers = 4
	const perProducer = 25

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			thread := fmt.Sprintf("run-%d", p)
			for i := int64(1); i <= perProducer; i++ {
				in.Enqueue(testutil.UpdateEvent(thread, i, fmt.Sprintf(`{"n":%d}`, i)))
			}
		}(p)
	}
	wg.Wait()
	in.Stop()
	require.NoError(t, <-done)

	runs := s.Runs()
	require.Len(t, runs, producers)
	for _, r := range runs {
		assert.Equal(t, perProducer, r.Events)
		assert.Equal(t, 0, seq.FromInt(perProducer).Compare(r.HighWater),
			"per-run order survives concurrent enqueueing")
	}
}

func TestIntakeContextCancel(t *testing.T) {
	s, _ := testStore(testOptions())

	processed := make(chan struct{}, 8)
	in := NewIntake(s,
		WithIntakeLogger(quietLogger()),
		WithObserver(func(event.Event, IngestResult) { processed <- struct{}{} }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	in.Enqueue(testutil.UpdateEvent("run-1", 1, `{"a":1}`))
	<-processed

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.False(t, in.Enqueue(testutil.UpdateEvent("run-1", 2, `{"a":2}`)),
		"queue refuses events after shutdown")
}

func TestIntakeContinuesPastRejections(t *testing.T) {
	s, _ := testStore(testOptions())

	var mu sync.Mutex
	var rejected int
	in := NewIntake(s,
		WithIntakeLogger(quietLogger()),
		WithObserver(func(_ event.Event, res IngestResult) {
			if res.Rejected != nil {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}),
	)

	done := make(chan error, 1)
	go func() { done <- in.Run(context.Background()) }()

	in.Enqueue(testutil.UpdateEvent("run-1", 5, `{"a":1}`))
	in.Enqueue(testutil.UpdateEvent("run-1", 3, `{"a":2}`)) // stale
	in.Enqueue(testutil.UpdateEvent("run-1", 6, `{"a":3}`))
	in.Stop()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, 1, rejected)
	mu.Unlock()

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":3}`, state.Canonicalize(vm.State))
	assert.Equal(t, 0, seq.MustParse("6").Compare(vm.Seq))
}
