// Package harness runs declarative YAML scenarios against a fresh
// in-memory run-state store.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario exercises"
//	thread: run-1
//	limits:
//	  maxEventsPerRun: "4"
//	  checkpointInterval: "3"
//	manifest: [plan, act]
//	events:
//	  - seq: "1"
//	    kind: state_update
//	    node: plan
//	    payload:
//	      values:
//	        topic: go
//	expect:
//	  - at: "1"
//	    state: { topic: go }
//	  - at: live
//	    nodes: { plan: completed }
//	    high_water: "1"
//
// Events feed the store in file order. Each expect block serves a view
// at one cursor position ("live" for the newest state) and checks any
// of: the exact state, the changed paths since the previous block, a
// history gap, node statuses, out-of-schema node names, and the run's
// high-water mark.
//
// # Deterministic Execution
//
// Scenarios run with a frozen clock, fixed checkpoint ids, and
// synthetic event timestamps spaced one second apart, so node durations
// and view models come out identical on every run. That is what makes
// golden comparison of the final view meaningful.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/basic-run.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
