package replay

import (
	"bytes"
	"fmt"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/schema"
	"github.com/roach88/phaseledger/internal/trace"
)

// MismatchKind names the most likely cause of two traces disagreeing.
type MismatchKind string

const (
	NoMismatch            MismatchKind = ""
	ConfigDrift           MismatchKind = "config drift"
	ModelDrift            MismatchKind = "model drift"
	PromptDrift           MismatchKind = "prompt drift"
	NonDeterministicField MismatchKind = "non-deterministic field"
	UnknownMismatch       MismatchKind = "unknown"
)

// Mismatch is the classification plus the first field that differs.
type Mismatch struct {
	Kind  MismatchKind `json:"kind"`
	Field string       `json:"field,omitempty"`
}

// configFields define the run; a difference means the runs were not
// configured alike.
var configFields = []string{"pipeline_definition", "config_snapshot", "contract_version", "agent_contract_version"}

// ClassifyMismatch compares the deterministic content of an expected and an
// actual trace document. Observational fields never count as a mismatch.
// Checks run from the most to the least specific cause: configuration,
// model, prompt, and finally output drift on a run that was never
// replayable.
func ClassifyMismatch(expected, actual map[string]any) (Mismatch, error) {
	exp, err := schema.Upgrade(expected)
	if err != nil {
		return Mismatch{}, fmt.Errorf("expected: %w", err)
	}
	act, err := schema.Upgrade(actual)
	if err != nil {
		return Mismatch{}, fmt.Errorf("actual: %w", err)
	}

	for _, field := range configFields {
		if !sameCanonical(exp[field], act[field]) {
			return Mismatch{Kind: ConfigDrift, Field: field}, nil
		}
	}
	if !sameCanonical(exp["model_metadata"], act["model_metadata"]) {
		return Mismatch{Kind: ModelDrift, Field: "model_metadata"}, nil
	}

	expEntries := deterministicEntries(exp)
	actEntries := deterministicEntries(act)
	for i := 0; i < min(len(expEntries), len(actEntries)); i++ {
		if !sameCanonical(promptHash(expEntries[i]), promptHash(actEntries[i])) {
			return Mismatch{Kind: PromptDrift, Field: fmt.Sprintf("entries[%d].metadata.prompt_hash", i)}, nil
		}
	}

	field := firstEntryDiff(expEntries, actEntries)
	if field == "" {
		return Mismatch{Kind: NoMismatch}, nil
	}
	if status, _ := exp["replay_status"].(string); status == string(trace.NonReplayable) {
		return Mismatch{Kind: NonDeterministicField, Field: field}, nil
	}
	return Mismatch{Kind: UnknownMismatch, Field: field}, nil
}

func deterministicEntries(doc map[string]any) []map[string]any {
	raw, _ := doc["entries"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		rec, ok := e.(map[string]any)
		if !ok {
			out = append(out, nil)
			continue
		}
		out = append(out, trace.DeterministicProjection(rec))
	}
	return out
}

func promptHash(rec map[string]any) any {
	md, _ := rec["metadata"].(map[string]any)
	return md["prompt_hash"]
}

func firstEntryDiff(exp, act []map[string]any) string {
	for i := 0; i < min(len(exp), len(act)); i++ {
		if sameCanonical(exp[i], act[i]) {
			continue
		}
		keys := make(map[string]struct{})
		for k := range exp[i] {
			keys[k] = struct{}{}
		}
		for k := range act[i] {
			keys[k] = struct{}{}
		}
		for _, k := range canonical.SortedKeys(keys) {
			if !sameCanonical(exp[i][k], act[i][k]) {
				return fmt.Sprintf("entries[%d].%s", i, k)
			}
		}
		return fmt.Sprintf("entries[%d]", i)
	}
	if len(exp) != len(act) {
		return "entries"
	}
	return ""
}

// sameCanonical compares two values by canonical form. Values that cannot
// be canonicalized are never equal.
func sameCanonical(a, b any) bool {
	ca, errA := canonical.Marshal(a)
	cb, errB := canonical.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
