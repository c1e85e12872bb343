// Package harness runs pipeline scenarios as executable contract tests.
//
// A scenario fixes the configuration, the task, and what the agent answers
// in each phase, then asserts on the trace the runner produces. Every run
// goes through the real runner and store: the sealed trace is written to a
// fresh in-memory SQLite database, read back, and replay-validated before
// assertions are evaluated.
//
// # Scenario Format
//
//	name: retry_then_abort
//	description: "EXECUTE keeps failing with a retryable class"
//	run_id: run-retry
//	retry: 2
//	config:
//	  convergence: { max_iterations: 3 }
//	task:
//	  goal: "summarize"
//	  context_id: doc-1
//	agent:
//	  EXECUTE:
//	    - fail: { class: resource_exhaustion, message: "rate limited" }
//	assertions:
//	  - type: phase_order
//	    phases: [INIT, PLAN, EXECUTE, ABORTED]
//	  - type: failure_class
//	    value: resource_exhaustion
//	  - type: valid_replay
//	    valid: true
//
// # Assertion Types
//
//   - entry_count: the trace has exactly count entries
//   - phase_order: the entry phases equal phases, retried entries included
//   - replay_status: REPLAYABLE or NON_REPLAYABLE
//   - failure_class: the terminal failure class, or "none"
//   - final_phase: the phase of the last entry
//   - termination_reason: the header termination reason
//   - convergence_reason: the header convergence reason
//   - valid_replay: the outcome of validating the stored document
//
// # Deterministic Testing
//
// Scenarios execute with a deterministic clock (testutil.DeterministicClock)
// and a fixed run ID (testutil.FixedRunIDGenerator), so the same scenario
// produces a byte-identical trace on every run. Golden snapshots under
// testdata/golden pin the phase walk and outcome of each scenario.
package harness
