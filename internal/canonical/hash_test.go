package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() map[string]any {
	return map[string]any{
		"name":   "auditable-doc-pipeline",
		"phases": []any{"INIT", "PLAN", "EXECUTE"},
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	cfg := map[string]any{"max_iterations": 3, "temperature": 0.0}

	fp1, err := Fingerprint(testDefinition(), cfg, "1.0", "1.0")
	require.NoError(t, err)
	fp2, err := Fingerprint(testDefinition(), cfg, "1.0", "1.0")
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2, "Fingerprint must be deterministic")
	assert.Len(t, fp1, 64, "SHA-256 hex is 64 characters")
}

func TestFingerprintInsertionOrderInvariant(t *testing.T) {
	// Build the same logical config with different insertion orders. Go maps
	// do not keep order, so we also vary the nesting path taken to build them.
	keys := []string{"model", "max_iterations", "epsilon", "window", "policy"}
	values := map[string]any{
		"model":          map[string]any{"provider": "p", "temperature": 0.0},
		"max_iterations": 3,
		"epsilon":        0.001,
		"window":         2,
		"policy":         "fail",
	}

	var fingerprints []string
	for shift := 0; shift < len(keys); shift++ {
		cfg := make(map[string]any, len(keys))
		for i := range keys {
			k := keys[(i+shift)%len(keys)]
			cfg[k] = values[k]
		}
		fingerprints = append(fingerprints, MustFingerprint(testDefinition(), cfg, "1.0", "1.0"))
	}

	for _, fp := range fingerprints[1:] {
		assert.Equal(t, fingerprints[0], fp)
	}
}

func TestFingerprintTypedAndGenericAgree(t *testing.T) {
	type model struct {
		Provider    string  `json:"provider"`
		Temperature float64 `json:"temperature"`
	}
	typed := map[string]any{"model": model{Provider: "p", Temperature: 0}}
	generic := map[string]any{"model": map[string]any{"temperature": 0, "provider": "p"}}

	assert.Equal(t,
		MustFingerprint(testDefinition(), typed, "1.0", "1.0"),
		MustFingerprint(testDefinition(), generic, "1.0", "1.0"),
	)
}

func TestFingerprintChangesWithInput(t *testing.T) {
	cfg := map[string]any{"max_iterations": 3}

	base := MustFingerprint(testDefinition(), cfg, "1.0", "1.0")
	otherCfg := MustFingerprint(testDefinition(), map[string]any{"max_iterations": 4}, "1.0", "1.0")
	otherContract := MustFingerprint(testDefinition(), cfg, "2.0", "1.0")
	otherAgentContract := MustFingerprint(testDefinition(), cfg, "1.0", "2.0")
	otherDef := MustFingerprint(map[string]any{"name": "other"}, cfg, "1.0", "1.0")

	assert.NotEqual(t, base, otherCfg)
	assert.NotEqual(t, base, otherContract)
	assert.NotEqual(t, base, otherAgentContract)
	assert.NotEqual(t, base, otherDef)
	assert.NotEqual(t, otherContract, otherAgentContract, "contract fields must not be interchangeable")
}

func TestFingerprintUnrepresentable(t *testing.T) {
	_, err := Fingerprint(testDefinition(), map[string]any{"hook": func() {}}, "1.0", "1.0")
	require.Error(t, err)
	assert.True(t, IsUnrepresentable(err))
}

func TestDigestDomainSeparation(t *testing.T) {
	v := map[string]any{"a": 1}

	entry, err := Digest(DomainEntry, v)
	require.NoError(t, err)
	conv, err := Digest(DomainConvergence, v)
	require.NoError(t, err)

	assert.NotEqual(t, entry, conv, "same payload under different domains must differ")
}

func TestPromptHash(t *testing.T) {
	assert.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		PromptHash("  hello world\n"),
	)
	// Decomposed and composed forms hash identically.
	assert.Equal(t, PromptHash("café"), PromptHash("cafe\u0301"))
	assert.Equal(t, "850f7dc43910ff890f8879c0ed26fe697c93a067ad93a7d50f466a7028a9bf4e", PromptHash("café"))
}
