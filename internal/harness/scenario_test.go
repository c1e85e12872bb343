package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
)

// writeScenario writes content to a scenario file in a temp dir.
func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: test_scenario
description: "Test scenario for validation"
run_id: run-test
retry: 2
task:
  goal: "summarize"
  context_id: doc-1
  payload:
    pages: 12
agent:
  VERIFY:
    - { verdict: pass, confidence: 0.9 }
    - fail: { class: execution_error, message: "boom" }
assertions:
  - type: entry_count
    count: 9
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "run-test", scenario.RunID)
	assert.Equal(t, 2, scenario.Retry)
	assert.Equal(t, "summarize", scenario.Task.Goal)
	assert.Equal(t, 12, scenario.Task.Payload["pages"])
	require.Len(t, scenario.Agent["VERIFY"], 2)
	assert.Equal(t, "pass", scenario.Agent["VERIFY"][0].Verdict)
	assert.Equal(t, "execution_error", scenario.Agent["VERIFY"][1].Fail.Class)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertEntryCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "name: [unclosed")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: typo
description: "misspelled assertions key"
task: { goal: "x" }
assertion:
  - type: entry_count
    count: 1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\ntask: {goal: g}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\ntask: {goal: g}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "description is required",
		},
		{
			name:    "missing goal",
			content: "name: n\ndescription: d\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "task.goal is required",
		},
		{
			name:    "missing assertions",
			content: "name: n\ndescription: d\ntask: {goal: g}",
			wantErr: "assertions list is required",
		},
		{
			name:    "negative retry",
			content: "name: n\ndescription: d\nretry: -1\ntask: {goal: g}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "retry must be non-negative",
		},
		{
			name:    "unknown phase",
			content: "name: n\ndescription: d\ntask: {goal: g}\nagent: {REVIEW: [{verdict: pass}]}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "agent.REVIEW",
		},
		{
			name:    "INIT has no agent",
			content: "name: n\ndescription: d\ntask: {goal: g}\nagent: {INIT: [{verdict: pass}]}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "phase does not call an agent",
		},
		{
			name:    "empty script",
			content: "name: n\ndescription: d\ntask: {goal: g}\nagent: {PLAN: []}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "at least one step is required",
		},
		{
			name:    "unknown failure class",
			content: "name: n\ndescription: d\ntask: {goal: g}\nagent: {PLAN: [{fail: {class: meltdown, message: m}}]}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "agent.PLAN[0].fail",
		},
		{
			name:    "config and config_file",
			content: "name: n\ndescription: d\nconfig: {retry: {max_attempts: 2}}\nconfig_file: test.yaml\ntask: {goal: g}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "mutually exclusive",
		},
		{
			name:    "missing config file",
			content: "name: n\ndescription: d\nconfig_file: nope.cue\ntask: {goal: g}\nassertions: [{type: entry_count, count: 1}]",
			wantErr: "config file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_AssertionTypes(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		wantErr   string
	}{
		{"entry_count valid", "{type: entry_count, count: 9}", ""},
		{"entry_count zero", "{type: entry_count}", "count must be positive"},
		{"phase_order valid", "{type: phase_order, phases: [INIT, PLAN]}", ""},
		{"phase_order empty", "{type: phase_order}", "phases list is required"},
		{"phase_order unknown phase", "{type: phase_order, phases: [INIT, REVIEW]}", "REVIEW"},
		{"replay_status valid", "{type: replay_status, value: REPLAYABLE}", ""},
		{"failure_class missing value", "{type: failure_class}", "value is required"},
		{"final_phase valid", "{type: final_phase, value: ABORTED}", ""},
		{"termination_reason missing value", "{type: termination_reason}", "value is required"},
		{"valid_replay valid", "{type: valid_replay, valid: false}", ""},
		{"valid_replay missing", "{type: valid_replay}", "valid is required"},
		{"missing type", "{count: 1}", "type is required"},
		{"unknown type", "{type: trace_contains}", "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(),
				"name: n\ndescription: d\ntask: {goal: g}\nassertions: ["+tt.assertion+"]")
			_, err := LoadScenario(path)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_ConfigFileRelativeToScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.cue"), []byte("retry: max_attempts: 2\n"), 0644))
	path := writeScenario(t, dir, `
name: n
description: d
config_file: run.cue
task: { goal: g }
assertions: [{ type: entry_count, count: 9 }]
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run.cue"), scenario.ConfigFile)
}

func TestAgentSteps(t *testing.T) {
	scenario := &Scenario{Agent: map[string][]ScriptStep{
		"EXECUTE": {
			{Fail: &InjectedFailure{Class: "resource_exhaustion", Message: "rate limited"}},
			{Text: "done", Confidence: 0.7},
		},
	}}

	steps, err := scenario.agentSteps()
	require.NoError(t, err)
	require.Len(t, steps[pipeline.PhaseExecute], 2)

	first := steps[pipeline.PhaseExecute][0]
	require.Error(t, first.Err)
	assert.Equal(t, failure.ResourceExhaustion, failure.Classify(first.Err))
	assert.Contains(t, first.Err.Error(), "rate limited")

	second := steps[pipeline.PhaseExecute][1]
	assert.NoError(t, second.Err)
	assert.Equal(t, "done", second.Text)
	assert.Equal(t, 0.7, second.Confidence)
}
