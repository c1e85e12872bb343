package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
	"github.com/roach88/phaseledger/internal/runner"
)

// Scenario defines a pipeline scenario: a configuration, a task, scripted
// agent behavior per phase, and assertions on the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed run ID for deterministic traces.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Config is an inline run configuration in the same shape as a YAML
	// config file. Omitted fields take the schema defaults.
	Config map[string]any `yaml:"config,omitempty"`

	// ConfigFile is a .cue or .yaml config file, relative to the scenario
	// file. Mutually exclusive with Config.
	ConfigFile string `yaml:"config_file,omitempty"`

	// Task is the run input.
	Task runner.Task `yaml:"task"`

	// Retry is the maximum attempts per phase. Zero means the config's
	// retry.max_attempts.
	Retry int `yaml:"retry,omitempty"`

	// Agent scripts agent responses per phase name. Each call for a phase
	// consumes the next step; the last step repeats. Unscripted phases
	// behave like the dry-run agent.
	Agent map[string][]ScriptStep `yaml:"agent,omitempty"`

	// Assertions validate the stored trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ScriptStep is one scripted agent response.
type ScriptStep struct {
	Text       string           `yaml:"text,omitempty"`
	Confidence float64          `yaml:"confidence,omitempty"`
	Verdict    string           `yaml:"verdict,omitempty"`
	Fail       *InjectedFailure `yaml:"fail,omitempty"`
}

// InjectedFailure makes a scripted step return a classified error.
type InjectedFailure struct {
	Class   string `yaml:"class"`
	Message string `yaml:"message"`
}

// Assertion validates the stored trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "entry_count": the trace has exactly Count entries
	// - "phase_order": the entry phases equal Phases exactly
	// - "replay_status": header replay_status equals Value
	// - "failure_class": the terminal failure class equals Value ("none" for no failure)
	// - "final_phase": the last entry's phase equals Value
	// - "termination_reason": header termination_reason equals Value
	// - "convergence_reason": header convergence_reason equals Value
	// - "valid_replay": replay validation of the stored document equals Valid
	Type string `yaml:"type"`

	Count  int      `yaml:"count,omitempty"`
	Phases []string `yaml:"phases,omitempty"`
	Value  string   `yaml:"value,omitempty"`
	Valid  *bool    `yaml:"valid,omitempty"`
}

// Assertion type constants.
const (
	AssertEntryCount        = "entry_count"
	AssertPhaseOrder        = "phase_order"
	AssertReplayStatus      = "replay_status"
	AssertFailureClass      = "failure_class"
	AssertFinalPhase        = "final_phase"
	AssertTerminationReason = "termination_reason"
	AssertConvergenceReason = "convergence_reason"
	AssertValidReplay       = "valid_replay"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative config_file is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.ConfigFile != "" && !filepath.IsAbs(scenario.ConfigFile) {
		scenario.ConfigFile = filepath.Join(filepath.Dir(path), scenario.ConfigFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Task.Goal == "" {
		return fmt.Errorf("task.goal is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Config != nil && s.ConfigFile != "" {
		return fmt.Errorf("config and config_file are mutually exclusive")
	}
	if s.ConfigFile != "" {
		if _, err := os.Stat(s.ConfigFile); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.ConfigFile)
		}
	}
	if s.Retry < 0 {
		return fmt.Errorf("retry must be non-negative")
	}

	for name, steps := range s.Agent {
		phase, err := pipeline.ParsePhase(name)
		if err != nil {
			return fmt.Errorf("agent.%s: %w", name, err)
		}
		if phase == pipeline.PhaseInit || phase.IsTerminal() {
			return fmt.Errorf("agent.%s: phase does not call an agent", name)
		}
		if len(steps) == 0 {
			return fmt.Errorf("agent.%s: at least one step is required", name)
		}
		for i, step := range steps {
			if step.Fail == nil {
				continue
			}
			if _, err := failure.ParseClass(step.Fail.Class); err != nil {
				return fmt.Errorf("agent.%s[%d].fail: %w", name, i, err)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntryCount:
		if a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: count must be positive for entry_count", index)
		}
	case AssertPhaseOrder:
		if len(a.Phases) == 0 {
			return fmt.Errorf("assertions[%d]: phases list is required for phase_order", index)
		}
		for _, p := range a.Phases {
			if _, err := pipeline.ParsePhase(p); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertReplayStatus, AssertFailureClass, AssertFinalPhase, AssertTerminationReason, AssertConvergenceReason:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertValidReplay:
		if a.Valid == nil {
			return fmt.Errorf("assertions[%d]: valid is required for valid_replay", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// agentSteps converts the scenario's scripts into runner steps.
func (s *Scenario) agentSteps() (map[pipeline.Phase][]runner.Step, error) {
	steps := make(map[pipeline.Phase][]runner.Step, len(s.Agent))
	for name, script := range s.Agent {
		phase, err := pipeline.ParsePhase(name)
		if err != nil {
			return nil, err
		}
		for _, st := range script {
			step := runner.Step{Text: st.Text, Confidence: st.Confidence, Verdict: st.Verdict}
			if st.Fail != nil {
				class, err := failure.ParseClass(st.Fail.Class)
				if err != nil {
					return nil, err
				}
				step.Err = failure.Errorf(class, "%s", st.Fail.Message)
			}
			steps[phase] = append(steps[phase], step)
		}
	}
	return steps, nil
}
