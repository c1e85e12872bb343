package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/failure"
	"github.com/roach88/phaseledger/internal/trace"
)

// marshalHeader converts the header to canonical JSON TEXT for storage.
func marshalHeader(h trace.Header) (string, error) {
	data, err := canonical.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	return string(data), nil
}

// marshalEntry converts an entry, timestamps included, to canonical JSON TEXT.
func marshalEntry(e trace.Entry) (string, error) {
	data, err := canonical.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry %d: %w", e.Seq, err)
	}
	return string(data), nil
}

// marshalFailure returns nil for a run without a terminal failure, so the
// column stays NULL.
func marshalFailure(a *failure.Artifact) (any, error) {
	if a == nil {
		return nil, nil
	}
	data, err := canonical.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal failure: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses stored JSON TEXT into a generic object. Numbers
// keep their literal form via json.Number.
func unmarshalObject(data string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected object, got null")
	}
	return obj, nil
}

// documentDigest identifies the full stored content of a run.
func documentDigest(run trace.RunTrace) (string, error) {
	return canonical.Digest(canonical.DomainTrace, run)
}
