package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"time"

	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// scenarioEpoch anchors the synthetic event timestamps and the frozen
// store clock. Event i carries scenarioEpoch plus i seconds.
var scenarioEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario against a fresh in-memory store and reports
// which expectations held.
//
// Each scenario runs in isolation with a frozen clock and fixed
// checkpoint ids, so the resulting trace and final view are identical
// on every run.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	thread := scenario.Thread
	if thread == "" {
		thread = defaultThread
	}

	opts, err := scenarioOptions(scenario)
	if err != nil {
		return nil, err
	}

	storeOpts := []runstate.StoreOption{
		runstate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		runstate.WithClock(func() time.Time { return scenarioEpoch }),
		runstate.WithIDGenerator(runstate.NewFixedIDGenerator()),
	}
	if len(scenario.Manifest) > 0 {
		storeOpts = append(storeOpts, runstate.WithExpectedNodes(scenario.Manifest))
	}
	store := runstate.New(opts, storeOpts...)

	result := NewResult()
	for i, step := range scenario.Events {
		ev, err := step.toEvent(thread, i)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		result.addTrace(ev, store.Ingest(ev))
	}

	for i, exp := range scenario.Expect {
		checkExpectation(store, thread, i, exp, result)
	}

	if vm, err := store.LiveView(thread); err == nil {
		final, err := canonicalViewJSON(vm)
		if err != nil {
			return nil, fmt.Errorf("encode final view: %w", err)
		}
		result.Final = final
	}

	return result, nil
}

// scenarioOptions folds the scenario's limit overrides into the default
// store options. Override keys match the ingest endpoint's query names,
// and any value FromQuery would warn about fails the scenario instead.
func scenarioOptions(scenario *Scenario) (config.Options, error) {
	if len(scenario.Limits) == 0 {
		return config.Defaults(), nil
	}

	q := url.Values{}
	for key, value := range scenario.Limits {
		q.Set(key, value)
	}
	opts, warnings := config.FromQuery(q)
	if len(warnings) > 0 {
		return config.Options{}, fmt.Errorf("limits: %s", warnings[0])
	}
	return opts, nil
}

// toEvent builds the wire event for step i. The scenario thread applies
// unless the step names its own.
func (s EventStep) toEvent(thread string, i int) (event.Event, error) {
	sq, err := seq.Parse(s.Seq)
	if err != nil {
		return event.Event{}, err
	}

	ev := event.Event{
		ThreadID:  s.Thread,
		Seq:       sq,
		Kind:      event.Kind(s.Kind),
		NodeName:  s.Node,
		Timestamp: scenarioEpoch.Add(time.Duration(i) * time.Second),
		StateHash: s.StateHash,
	}
	if ev.ThreadID == "" {
		ev.ThreadID = thread
	}
	if s.Payload != nil {
		payload, err := state.FromGo(s.Payload)
		if err != nil {
			return event.Event{}, fmt.Errorf("payload: %w", err)
		}
		ev.Payload = payload
	}
	return ev, nil
}

// checkExpectation serves the view the block points at and records any
// mismatches on the result.
func checkExpectation(store *runstate.Store, thread string, index int, exp Expectation, result *Result) {
	label := fmt.Sprintf("expect[%d] at %s", index, exp.At)

	if exp.HighWater != "" {
		checkHighWater(store, thread, label, exp.HighWater, result)
	}

	var vm runstate.GraphViewModel
	var err error
	if exp.At == atLive {
		vm, err = store.LiveView(thread)
	} else {
		// Validated at load time.
		vm, err = store.ViewAt(thread, seq.MustParse(exp.At))
	}

	if exp.Gap {
		if !runstate.IsGap(err) {
			result.AddError(fmt.Sprintf("%s: expected a history gap, got none", label))
		}
		return
	}
	if err != nil {
		result.AddError(fmt.Sprintf("%s: %v", label, err))
		return
	}

	if exp.State != nil {
		want, err := state.FromGo(exp.State)
		if err != nil {
			result.AddError(fmt.Sprintf("%s: state: %v", label, err))
		} else if got, expected := state.Canonicalize(vm.State), state.Canonicalize(want); got != expected {
			result.AddError(fmt.Sprintf("%s: state is %s, want %s", label, got, expected))
		}
	}

	if exp.ChangedPaths != nil && !slices.Equal(vm.ChangedPaths, exp.ChangedPaths) {
		result.AddError(fmt.Sprintf("%s: changed paths %v, want %v", label, vm.ChangedPaths, exp.ChangedPaths))
	}

	names := make([]string, 0, len(exp.Nodes))
	for name := range exp.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		nv, ok := vm.Nodes[name]
		if !ok {
			result.AddError(fmt.Sprintf("%s: node %q is not in the view", label, name))
			continue
		}
		if string(nv.Status) != exp.Nodes[name] {
			result.AddError(fmt.Sprintf("%s: node %q is %s, want %s", label, name, nv.Status, exp.Nodes[name]))
		}
	}

	if exp.OutOfSchema != nil && !slices.Equal(vm.OutOfSchemaNodes, exp.OutOfSchema) {
		result.AddError(fmt.Sprintf("%s: out-of-schema nodes %v, want %v", label, vm.OutOfSchemaNodes, exp.OutOfSchema))
	}
}

// checkHighWater compares the run's live high-water mark against the
// expected encoding. Reads the run summary rather than a view so the
// changed-path cursor stays where the block's own serve put it.
func checkHighWater(store *runstate.Store, thread, label, want string, result *Result) {
	target := seq.MustParse(want)
	for _, run := range store.Runs() {
		if run.ThreadID != thread {
			continue
		}
		if run.HighWater.Compare(target) != 0 {
			result.AddError(fmt.Sprintf("%s: high-water is %s, want %s", label, run.HighWater, want))
		}
		return
	}
	result.AddError(fmt.Sprintf("%s: run %q is not observed", label, thread))
}

// canonicalViewJSON renders a view model in canonical form, keys sorted
// and numbers normalized, for stable golden comparison.
func canonicalViewJSON(vm runstate.GraphViewModel) (json.RawMessage, error) {
	data, err := json.Marshal(vm)
	if err != nil {
		return nil, err
	}
	v, err := state.Decode(data)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(state.Canonicalize(v)), nil
}
