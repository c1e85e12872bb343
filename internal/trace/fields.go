package trace

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/phaseledger/internal/canonical"
)

// FieldClass says whether a field may take part in determinism proofs.
type FieldClass string

const (
	Deterministic FieldClass = "deterministic"
	Observational FieldClass = "observational"
)

// fieldClasses registers every trace field. Keys are dotted paths relative
// to an entry ("seq", "metadata.duration_ms") or to the header
// ("header.run_id"). Unregistered metadata keys are deterministic.
var fieldClasses = map[string]FieldClass{
	"seq":               Deterministic,
	"phase":             Deterministic,
	"status":            Deterministic,
	"input":             Deterministic,
	"output":            Deterministic,
	"metadata":          Deterministic,
	"interrupted_phase": Deterministic,
	"failure":           Deterministic,
	"digest":            Deterministic,
	"started_at":        Observational,
	"finished_at":       Observational,

	"metadata.duration_ms": Observational,
	"metadata.attempt_at":  Observational,
	"metadata.host":        Observational,

	"header.trace_schema_version":   Deterministic,
	"header.run_id":                 Observational,
	"header.runtime_version":        Deterministic,
	"header.model_metadata":         Deterministic,
	"header.replay_status":          Deterministic,
	"header.fingerprint":            Deterministic,
	"header.contract_version":       Deterministic,
	"header.agent_contract_version": Deterministic,
	"header.pipeline_definition":    Deterministic,
	"header.config_snapshot":        Deterministic,
	"header.termination_reason":     Deterministic,
	"header.convergence_hash":       Deterministic,
	"header.convergence_reason":     Deterministic,
}

// Classification returns the class of a registered field path.
func Classification(field string) (FieldClass, bool) {
	c, ok := fieldClasses[field]
	if ok {
		return c, true
	}
	if strings.HasPrefix(field, "metadata.") {
		return Deterministic, true
	}
	return "", false
}

// IsObservational reports whether field is registered as observational.
func IsObservational(field string) bool {
	c, _ := Classification(field)
	return c == Observational
}

// HeaderFields lists the header keys in a RunTrace document.
func HeaderFields() []string {
	var out []string
	for k := range fieldClasses {
		if name, ok := strings.CutPrefix(k, "header."); ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// DeterministicProjection strips observational fields and the digest from
// a generic entry object. The input is not modified.
func DeterministicProjection(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == "digest" || IsObservational(k) {
			continue
		}
		if k == "metadata" {
			if md, ok := v.(map[string]any); ok {
				stripped := make(map[string]any, len(md))
				for mk, mv := range md {
					if !IsObservational("metadata." + mk) {
						stripped[mk] = mv
					}
				}
				v = stripped
			}
		}
		out[k] = v
	}
	return out
}

// DeterministicSnapshot returns the deterministic projection of e.
func DeterministicSnapshot(e Entry) (map[string]any, error) {
	tree, err := canonical.ToTree(e)
	if err != nil {
		return nil, fmt.Errorf("entry %d snapshot: %w", e.Seq, err)
	}
	rec, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entry %d snapshot: expected object, got %T", e.Seq, tree)
	}
	return DeterministicProjection(rec), nil
}

// EntryDigest hashes the deterministic projection of a generic entry.
func EntryDigest(rec map[string]any) (string, error) {
	return canonical.Digest(canonical.DomainEntry, DeterministicProjection(rec))
}
