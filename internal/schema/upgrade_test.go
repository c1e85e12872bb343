package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v1Document(temperature any) map[string]any {
	return map[string]any{
		"runtime_version": "0.1.0",
		"fingerprint":     "abc",
		"model_metadata": map[string]any{
			"provider":    "dry-run",
			"model_name":  "none",
			"temperature": temperature,
			"max_tokens":  json.Number("256"),
		},
		"entries": []any{
			map[string]any{"phase": "INIT", "status": "completed"},
			map[string]any{"phase": "PLAN", "status": "completed"},
		},
	}
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name     string
		doc      map[string]any
		expected int
	}{
		{"missing means v1", map[string]any{}, 1},
		{"int", map[string]any{VersionField: 2}, 2},
		{"json number", map[string]any{VersionField: json.Number("2")}, 2},
		{"float64", map[string]any{VersionField: float64(1)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Version(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestVersionRejectsGarbage(t *testing.T) {
	for _, raw := range []any{"2", 1.5, 0, -3, nil} {
		_, err := Version(map[string]any{VersionField: raw})
		require.Error(t, err, "%v", raw)
		assert.True(t, IsIncompatibleVersion(err))
	}
}

func TestUpgradeV1ToCurrent(t *testing.T) {
	doc := v1Document(json.Number("0"))

	out, err := Upgrade(doc)
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, out[VersionField])
	assert.Equal(t, "REPLAYABLE", out["replay_status"])
	assert.Equal(t, DefaultContractVersion, out["contract_version"])
	assert.Equal(t, DefaultContractVersion, out["agent_contract_version"])

	entries := out["entries"].([]any)
	assert.Equal(t, int64(1), entries[0].(map[string]any)["seq"])
	assert.Equal(t, int64(2), entries[1].(map[string]any)["seq"])
}

func TestUpgradeDerivesNonReplayable(t *testing.T) {
	out, err := Upgrade(v1Document(0.7))
	require.NoError(t, err)
	assert.Equal(t, "NON_REPLAYABLE", out["replay_status"])
}

func TestUpgradeKeepsExistingValues(t *testing.T) {
	doc := v1Document(0.0)
	doc["contract_version"] = "3.1"
	doc["entries"].([]any)[0].(map[string]any)["seq"] = json.Number("7")

	out, err := Upgrade(doc)
	require.NoError(t, err)
	assert.Equal(t, "3.1", out["contract_version"])
	assert.Equal(t, json.Number("7"), out["entries"].([]any)[0].(map[string]any)["seq"])
}

func TestUpgradeDoesNotMutateInput(t *testing.T) {
	doc := v1Document(0.0)
	before, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = Upgrade(doc)
	require.NoError(t, err)

	after, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	_, hasVersion := doc[VersionField]
	assert.False(t, hasVersion)
}

func TestUpgradeIdempotentAtCurrent(t *testing.T) {
	once, err := Upgrade(v1Document(0.0))
	require.NoError(t, err)
	twice, err := Upgrade(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestUpgradeRejectsNewerVersion(t *testing.T) {
	doc := v1Document(0.0)
	doc[VersionField] = CurrentVersion + 1

	_, err := Upgrade(doc)
	require.Error(t, err)

	var ive *IncompatibleVersionError
	require.ErrorAs(t, err, &ive)
	assert.Equal(t, CurrentVersion+1, ive.Found)
	assert.Equal(t, CurrentVersion, ive.Current)
}

func TestUpgradeMissingLink(t *testing.T) {
	u := NewUpgrader(WithMigrations(3, map[int]Migration{
		1: func(doc map[string]any) error { return nil },
	}))

	_, err := u.Upgrade(map[string]any{})
	require.Error(t, err)
	assert.True(t, IsIncompatibleVersion(err))
}

func TestUpgradeAllOrNothing(t *testing.T) {
	calls := 0
	u := NewUpgrader(WithMigrations(3, map[int]Migration{
		1: func(doc map[string]any) error {
			calls++
			doc["step1"] = true
			return nil
		},
		2: func(doc map[string]any) error {
			calls++
			return errors.New("boom")
		},
	}))

	doc := map[string]any{"keep": "me"}
	out, err := u.Upgrade(doc)
	require.Error(t, err)
	assert.Nil(t, out, "no partial result")
	assert.Equal(t, 2, calls)
	assert.Equal(t, map[string]any{"keep": "me"}, doc)
}

func TestUpgradeFailsWithoutTemperature(t *testing.T) {
	doc := v1Document(nil)

	_, err := Upgrade(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay_status")
}

func TestUpgradeRejectsMalformedEntries(t *testing.T) {
	doc := v1Document(0.0)
	doc["entries"] = []any{"not an object"}

	_, err := Upgrade(doc)
	assert.Error(t, err)
}

func TestNumberHelpers(t *testing.T) {
	n, ok := Int(json.Number("42"))
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = Int(json.Number("4.2"))
	assert.False(t, ok)

	n, ok = Int(json.Number("1e2"))
	assert.True(t, ok)
	assert.Equal(t, int64(100), n)

	f, ok := Float(json.Number("0.25"))
	assert.True(t, ok)
	assert.Equal(t, 0.25, f)

	_, ok = Float("0.25")
	assert.False(t, ok)
}
