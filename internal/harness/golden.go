package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/trace"
)

// Snapshot projects a run onto the fields a golden file pins: the outcome
// and, per entry, the phase walk. Digests, fingerprints and timestamps are
// left out so goldens survive unrelated payload changes; replay validation
// covers those.
func Snapshot(scenarioName string, run trace.RunTrace) map[string]any {
	entries := make([]any, len(run.Entries))
	for i, e := range run.Entries {
		m := map[string]any{
			"seq":    e.Seq,
			"phase":  string(e.Phase),
			"status": string(e.Status),
		}
		if v, ok := e.Output["verdict"].(string); ok && v != "" {
			m["verdict"] = v
		}
		if e.InterruptedPhase != "" {
			m["interrupted_phase"] = string(e.InterruptedPhase)
		}
		entries[i] = m
	}

	snap := map[string]any{
		"scenario_name":      scenarioName,
		"run_id":             run.RunID,
		"replay_status":      string(run.ReplayStatus),
		"termination_reason": string(run.TerminationReason),
		"entries":            entries,
	}
	if run.ConvergenceReason != "" {
		snap["convergence_reason"] = run.ConvergenceReason
	}
	if run.Failure != nil {
		snap["failure_class"] = run.Failure.Class().String()
	}
	return snap
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := canonical.Marshal(Snapshot(scenarioName, result.Run))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
