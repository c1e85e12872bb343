package runner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
)

// Agent performs the work of one phase. Implementations must honor ctx
// cancellation. A returned *failure.Error selects the failure class; any
// other error is classified by failure.Classify.
type Agent interface {
	Run(ctx context.Context, phase pipeline.Phase, in AgentInput) (AgentOutput, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, phase pipeline.Phase, in AgentInput) (AgentOutput, error)

func (f AgentFunc) Run(ctx context.Context, phase pipeline.Phase, in AgentInput) (AgentOutput, error) {
	return f(ctx, phase, in)
}

// AgentInput is what every phase agent receives.
type AgentInput struct {
	TaskGoal  string         `json:"task_goal"`
	ContextID string         `json:"context_id"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata"`
}

// Snapshot renders the input as a trace entry input.
func (in AgentInput) Snapshot() map[string]any {
	return map[string]any{
		"task_goal":  in.TaskGoal,
		"context_id": in.ContextID,
		"payload":    orEmpty(in.Payload),
		"metadata":   orEmpty(in.Metadata),
	}
}

// AgentOutput is what a phase agent returns. Verdict is read after VERIFY
// to decide convergence.
type AgentOutput struct {
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Verdict    string         `json:"verdict,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Validate checks the output contract: non-empty text, a confidence in
// [0, 1], and metadata.contract_version equal to contractVersion. Violations
// are validation errors and are never retried.
func (out AgentOutput) Validate(contractVersion string) error {
	var errs []error
	if out.Text == "" {
		errs = append(errs, errors.New("text is empty"))
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v outside [0, 1]", out.Confidence))
	}
	got, _ := out.Metadata["contract_version"].(string)
	if got != contractVersion {
		errs = append(errs, fmt.Errorf("contract_version %q, want %q", got, contractVersion))
	}
	if err := errors.Join(errs...); err != nil {
		return &failure.Error{Class: failure.ValidationError, Mode: failure.ModeContract, Err: fmt.Errorf("agent output: %w", err)}
	}
	return nil
}

// Snapshot renders the output as a trace entry output.
func (out AgentOutput) Snapshot() map[string]any {
	m := map[string]any{
		"text":       out.Text,
		"confidence": out.Confidence,
		"metadata":   orEmpty(out.Metadata),
	}
	if out.Verdict != "" {
		m["verdict"] = out.Verdict
	}
	return m
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
