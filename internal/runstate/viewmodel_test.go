package runstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
	"github.com/rewindhq/rewind/internal/testutil"
)

func TestViewModelFields(t *testing.T) {
	opts := testOptions()
	s, _ := testStore(opts)
	ingestAll(t, s, agentRunEvents("run-1")[:7]...)

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", vm.ThreadID)
	assert.True(t, vm.IsLive)
	assert.Equal(t, 0, seq.MustParse("7").Compare(vm.Seq))
	assert.Equal(t, "act", vm.ActiveNode)
	assert.False(t, vm.Finished)
	assert.Equal(t, 0, vm.PendingLocal)

	assert.Equal(t, NodeStatusCompleted, vm.Nodes["plan"].Status)
	assert.Equal(t, int64(1000), vm.Nodes["plan"].DurationMS)
	assert.Equal(t, NodeStatusRunning, vm.Nodes["act"].Status)
	assert.Equal(t, 1, vm.Nodes["act"].Traversals)
	assert.Equal(t, NodeStatusPending, vm.Nodes["summarize"].Status,
		"declared but unobserved nodes show as pending")

	assert.Equal(t, state.Hash(vm.State).Hex(), vm.StateHash)
	assert.False(t, vm.UnsafeNumbers)
}

func TestViewModelFinishedRun(t *testing.T) {
	s, _ := testStore(testOptions())
	ingestAll(t, s, agentRunEvents("run-1")...)

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.True(t, vm.Finished)
	assert.Empty(t, vm.ActiveNode)
	assert.Equal(t, NodeStatusFailed, vm.Nodes["summarize"].Status)
	assert.Equal(t, "llm timeout", vm.Nodes["summarize"].Error)
}

func TestChangedPathsAcrossServes(t *testing.T) {
	s, _ := testStore(testOptions())
	ingestAll(t, s, testutil.UpdateEvent("run-1", 1, `{"a":1,"b":1}`))

	// Nothing was ever served, so everything is new.
	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, vm.ChangedPaths)

	// Same position, nothing changed since the last serve.
	vm, err = s.LiveView("run-1")
	require.NoError(t, err)
	assert.Empty(t, vm.ChangedPaths)

	ingestAll(t, s, testutil.UpdateEvent("run-1", 2, `{"b":2,"c":3}`))
	vm, err = s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/b", "/c"}, vm.ChangedPaths)

	// Scrubbing backwards reports the change-set relative to what the
	// consumer was just looking at.
	vm, err = s.ViewAt("run-1", seq.FromInt(1))
	require.NoError(t, err)
	assert.False(t, vm.IsLive)
	assert.Equal(t, []string{"/b", "/c"}, vm.ChangedPaths)
}

func TestViewModelStateIsACopy(t *testing.T) {
	s, _ := testStore(testOptions())
	ingestAll(t, s, testutil.UpdateEvent("run-1", 1, `{"a":1}`))

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	vm.State.(state.Object)["a"] = state.String("scribbled")

	again, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, state.Canonicalize(again.State))
}

func TestOutOfSchemaNodes(t *testing.T) {
	s, _ := testStore(testOptions())
	ingestAll(t, s,
		testutil.MakeEvent("run-1", 1, event.KindGraphStart, "", `{"nodes":["plan","act"]}`),
		testutil.MakeEvent("run-1", 2, event.KindNodeStart, "plan", ""),
		testutil.MakeEvent("run-1", 3, event.KindNodeStart, "rogue", ""),
	)

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rogue"}, vm.OutOfSchemaNodes)
}

func TestOutOfSchemaUsesNFCEquivalence(t *testing.T) {
	s, _ := testStore(testOptions())

	// The schema declares the node in composed form; the producer later
	// names it in decomposed form. Both spell the same word.
	ingestAll(t, s,
		testutil.MakeEvent("run-1", 1, event.KindGraphStart, "", `{"nodes":["café"]}`),
		testutil.MakeEvent("run-1", 2, event.KindNodeStart, "café", ""),
	)

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Empty(t, vm.OutOfSchemaNodes, "unicode spelling must not count as drift")
}

func TestManifestNodesJoinSchema(t *testing.T) {
	s, _ := testStore(testOptions(), WithExpectedNodes([]string{"plan", "audit"}))
	ingestAll(t, s,
		testutil.MakeEvent("run-1", 1, event.KindGraphStart, "", `{"nodes":["plan","act"]}`),
		testutil.MakeEvent("run-1", 2, event.KindNodeStart, "act", ""),
		testutil.MakeEvent("run-1", 3, event.KindNodeStart, "ghost", ""),
	)

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, vm.OutOfSchemaNodes,
		"nodes from either the manifest or graph_start are in schema")
	assert.Equal(t, NodeStatusPending, vm.Nodes["audit"].Status,
		"manifest-only nodes surface as pending")
}

func TestOversizedSchemaDisablesDrift(t *testing.T) {
	opts := testOptions()
	opts.MaxSchemaJSONSizeBytes = 16
	s, _ := testStore(opts)

	res := s.Ingest(testutil.MakeEvent("run-1", 1, event.KindGraphStart, "",
		`{"nodes":["plan","act","summarize","review"]}`))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "drift reporting disabled")

	ingestAll(t, s, testutil.MakeEvent("run-1", 2, event.KindNodeStart, "offbook", ""))

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.Empty(t, vm.OutOfSchemaNodes)
}

func TestViewModelUnsafeNumbers(t *testing.T) {
	s, _ := testStore(testOptions())
	ingestAll(t, s, testutil.UpdateEvent("run-1", 1, `{"count":9007199254740993}`))

	vm, err := s.LiveView("run-1")
	require.NoError(t, err)
	assert.True(t, vm.UnsafeNumbers)
	assert.Equal(t, `{"count":"9007199254740993"}`, state.Canonicalize(vm.State))
}

func TestViewAtGapSurfaces(t *testing.T) {
	opts := testOptions()
	opts.MaxEventsPerRun = 3
	opts.CheckpointInterval = 1000
	s, _ := testStore(opts)

	for i := int64(1); i <= 10; i++ {
		s.Ingest(testutil.UpdateEvent("run-1", i, `{"n":1}`))
	}

	_, err := s.ViewAt("run-1", seq.FromInt(2))
	require.Error(t, err)
	assert.True(t, IsGap(err))
}
