package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		field    string
		expected FieldClass
	}{
		{"seq", Deterministic},
		{"input", Deterministic},
		{"started_at", Observational},
		{"finished_at", Observational},
		{"metadata.duration_ms", Observational},
		{"metadata.prompt_hash", Deterministic},
		{"header.run_id", Observational},
		{"header.fingerprint", Deterministic},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			c, ok := Classification(tt.field)
			assert.True(t, ok)
			assert.Equal(t, tt.expected, c)
		})
	}

	_, ok := Classification("nonsense")
	assert.False(t, ok)
}

func TestDeterministicProjection(t *testing.T) {
	rec := map[string]any{
		"seq":         1,
		"phase":       "INIT",
		"digest":      "abc",
		"started_at":  "2026-01-01T00:00:00Z",
		"finished_at": "2026-01-01T00:00:01Z",
		"metadata": map[string]any{
			"duration_ms": 12,
			"prompt_hash": "p",
		},
	}

	out := DeterministicProjection(rec)

	assert.Equal(t, map[string]any{
		"seq":      1,
		"phase":    "INIT",
		"metadata": map[string]any{"prompt_hash": "p"},
	}, out)
	assert.Contains(t, rec, "digest", "input is not modified")
	assert.Contains(t, rec["metadata"].(map[string]any), "duration_ms")
}

func TestHeaderFields(t *testing.T) {
	fields := HeaderFields()
	assert.Contains(t, fields, "fingerprint")
	assert.Contains(t, fields, "replay_status")
	assert.IsIncreasing(t, fields)
}
