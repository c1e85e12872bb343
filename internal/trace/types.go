package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/pipeline"
)

// ReplayStatus states whether a run can in principle be re-executed to the
// same result. It is always derived, never supplied by callers.
type ReplayStatus string

const (
	Replayable    ReplayStatus = "REPLAYABLE"
	NonReplayable ReplayStatus = "NON_REPLAYABLE"
)

// ReplayStatusFor derives the replay status from the sampling temperature.
// Only an exactly zero temperature is replayable.
func ReplayStatusFor(temperature float64) ReplayStatus {
	if temperature == 0 {
		return Replayable
	}
	return NonReplayable
}

// Status is the outcome recorded on a trace entry.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusRetried    Status = "retried"
	StatusIncomplete Status = "incomplete"
)

// Valid reports whether s is a known entry status.
func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusRetried, StatusIncomplete:
		return true
	}
	return false
}

// ModelMetadata identifies the model configuration a run used.
type ModelMetadata struct {
	Provider    string  `json:"provider"`
	ModelName   string  `json:"model_name"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Validate checks the fields the replay status and fingerprint rely on.
func (m ModelMetadata) Validate() error {
	if m.Provider == "" {
		return fmt.Errorf("model_metadata.provider is required")
	}
	if m.ModelName == "" {
		return fmt.Errorf("model_metadata.model_name is required")
	}
	if math.IsNaN(m.Temperature) || math.IsInf(m.Temperature, 0) || m.Temperature < 0 {
		return fmt.Errorf("model_metadata.temperature must be a finite non-negative number, got %v", m.Temperature)
	}
	if m.MaxTokens < 0 {
		return fmt.Errorf("model_metadata.max_tokens must not be negative, got %d", m.MaxTokens)
	}
	return nil
}

// Payload returns the metadata as a generic JSON object.
func (m ModelMetadata) Payload() map[string]any {
	return map[string]any{
		"provider":    m.Provider,
		"model_name":  m.ModelName,
		"temperature": m.Temperature,
		"max_tokens":  m.MaxTokens,
	}
}

// Header carries run-level identity and provenance.
type Header struct {
	TraceSchemaVersion   int                        `json:"trace_schema_version"`
	RunID                string                     `json:"run_id"`
	RuntimeVersion       string                     `json:"runtime_version"`
	ModelMetadata        ModelMetadata              `json:"model_metadata"`
	ReplayStatus         ReplayStatus               `json:"replay_status"`
	Fingerprint          string                     `json:"fingerprint"`
	ContractVersion      string                     `json:"contract_version,omitempty"`
	AgentContractVersion string                     `json:"agent_contract_version,omitempty"`
	PipelineDefinition   map[string]any             `json:"pipeline_definition,omitempty"`
	ConfigSnapshot       map[string]any             `json:"config_snapshot,omitempty"`
	TerminationReason    pipeline.TerminationReason `json:"termination_reason,omitempty"`
	ConvergenceHash      string                     `json:"convergence_hash,omitempty"`
	ConvergenceReason    string                     `json:"convergence_reason,omitempty"`
}

// Entry records one phase execution.
type Entry struct {
	Seq              int64             `json:"seq"`
	Phase            pipeline.Phase    `json:"phase"`
	Status           Status            `json:"status"`
	Input            map[string]any    `json:"input"`
	Output           map[string]any    `json:"output"`
	Metadata         map[string]any    `json:"metadata"`
	InterruptedPhase pipeline.Phase    `json:"interrupted_phase,omitempty"`
	Failure          *failure.Artifact `json:"failure,omitempty"`
	Digest           string            `json:"digest"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
}

// RunTrace is a sealed run: header fields at the top level, the ordered
// entries, and at most one terminal failure.
type RunTrace struct {
	Header
	Entries []Entry           `json:"entries"`
	Failure *failure.Artifact `json:"failure,omitempty"`
}

// Last returns the final entry. Sealed traces always have one.
func (t RunTrace) Last() Entry {
	return t.Entries[len(t.Entries)-1]
}

// Phases returns the phase of every entry in order.
func (t RunTrace) Phases() []pipeline.Phase {
	out := make([]pipeline.Phase, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Phase
	}
	return out
}

// Payload returns the trace as a generic JSON tree, the form the schema
// upgrader and replay validator operate on.
func (t RunTrace) Payload() (map[string]any, error) {
	tree, err := canonical.ToTree(t)
	if err != nil {
		return nil, fmt.Errorf("trace payload: %w", err)
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("trace payload: expected object, got %T", tree)
	}
	return obj, nil
}

// Canonical returns the canonical JSON form of the trace.
func (t RunTrace) Canonical() ([]byte, error) {
	return canonical.Marshal(t)
}

// Decode parses a trace document. Numbers inside snapshots keep their
// literal form; unknown fields are ignored. Decode does not upgrade or
// validate beyond field types; use the replay validator for that.
func Decode(data []byte) (RunTrace, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var t RunTrace
	if err := dec.Decode(&t); err != nil {
		return RunTrace{}, fmt.Errorf("decode trace: %w", err)
	}
	return t, nil
}
