package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/phaseledger/internal/pipeline"
)

// DryRunAgent produces a valid, deterministic output for every phase
// without calling a model. VERIFY always passes, so a dry run converges
// after StabilityWindow iterations.
type DryRunAgent struct {
	ContractVersion string
}

func (a DryRunAgent) Run(ctx context.Context, phase pipeline.Phase, in AgentInput) (AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return AgentOutput{}, err
	}
	out := AgentOutput{
		Text:       fmt.Sprintf("%s result for %q", phase, in.TaskGoal),
		Confidence: 0.9,
		Metadata:   map[string]any{"contract_version": a.ContractVersion, "agent": "dry-run"},
	}
	if phase == pipeline.PhaseJudge || phase == pipeline.PhaseVerify {
		out.Verdict = "pass"
	}
	return out, nil
}

// ScriptedAgent replays scripted behavior per phase. Each call for a phase
// consumes the next Step scripted for it; once the script runs out, the
// last step repeats. Phases without a script behave like DryRunAgent.
//
// Thread-safety: safe for concurrent use, but a script describes one run.
type ScriptedAgent struct {
	ContractVersion string

	mu     sync.Mutex
	steps  map[pipeline.Phase][]Step
	called map[pipeline.Phase]int
}

// Step is one scripted agent response. A non-nil Err is returned instead of
// an output.
type Step struct {
	Text       string
	Confidence float64
	Verdict    string
	Err        error
}

// NewScriptedAgent creates an agent with the given scripts.
func NewScriptedAgent(contractVersion string, steps map[pipeline.Phase][]Step) *ScriptedAgent {
	return &ScriptedAgent{
		ContractVersion: contractVersion,
		steps:           steps,
		called:          make(map[pipeline.Phase]int),
	}
}

func (a *ScriptedAgent) Run(ctx context.Context, phase pipeline.Phase, in AgentInput) (AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return AgentOutput{}, err
	}

	a.mu.Lock()
	script := a.steps[phase]
	n := a.called[phase]
	a.called[phase] = n + 1
	a.mu.Unlock()

	if len(script) == 0 {
		return DryRunAgent{ContractVersion: a.ContractVersion}.Run(ctx, phase, in)
	}
	step := script[min(n, len(script)-1)]
	if step.Err != nil {
		return AgentOutput{}, step.Err
	}

	text := step.Text
	if text == "" {
		text = fmt.Sprintf("%s step %d", phase, n+1)
	}
	return AgentOutput{
		Text:       text,
		Confidence: step.Confidence,
		Verdict:    step.Verdict,
		Metadata:   map[string]any{"contract_version": a.ContractVersion, "agent": "scripted"},
	}, nil
}

// Calls reports how many times phase has been invoked.
func (a *ScriptedAgent) Calls(phase pipeline.Phase) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.called[phase]
}
