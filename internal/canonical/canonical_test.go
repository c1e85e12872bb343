package canonical

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", int64(-100), "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"uint8", uint8(7), "7"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"string map", map[string]string{"b": "1", "a": "2"}, `{"a":"2","b":"1"}`},
		{"nested", map[string]any{"a": []any{1, "x", nil}}, `{"a":[1,"x",null]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"zero float", 0.0, "0"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"integral float", 5.0, "5"},
		{"fraction", 0.7, "0.7"},
		{"small fraction", 0.001, "0.001"},
		{"tiny", 1e-7, "1e-7"},
		{"tiny with digits", 1.5e-7, "1.5e-7"},
		{"large integral", 1e20, "100000000000000000000"},
		{"exponent threshold", 1e21, "1e+21"},
		{"large with digits", 1.25e22, "1.25e+22"},
		{"negative fraction", -2.5, "-2.5"},
		{"float32", float32(0.5), "0.5"},
		{"json number int", json.Number("12"), "12"},
		{"json number float", json.Number("1.50"), "1.5"},
		{"json number exp", json.Number("1E3"), "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"d": 1, "c": 2},
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"c":2,"d":1},"zebra":1}`, string(result))
}

func TestMarshalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before
	// U+E000 in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html untouched", "<a & b>", `"<a & b>"`},
		{"quote and backslash", `say "hi" \ bye`, `"say \"hi\" \\ bye"`},
		{"short escapes", "a\nb\tc\rd", `"a\nb\tc\rd"`},
		{"control char", "x\x01y", `"x\u0001y"`},
		{"line separator kept", "a\u2028b", "\"a\u2028b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalNFCNormalization(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "café"

	a, err := Marshal(map[string]any{"name": decomposed})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{"name": composed})
	require.NoError(t, err)

	assert.Equal(t, string(b), string(a))
}

func TestMarshalKeyCollisionAfterNormalization(t *testing.T) {
	_, err := Marshal(map[string]any{
		"cafe\u0301": 1,
		"caf\u00e9":  2,
	})
	require.Error(t, err)
	assert.True(t, IsUnrepresentable(err))
}

func TestMarshalStructProjection(t *testing.T) {
	type model struct {
		Provider    string  `json:"provider"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}

	result, err := Marshal(model{Provider: "dry-run", Temperature: 0, MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, `{"max_tokens":512,"provider":"dry-run","temperature":0}`, string(result))
}

func TestMarshalUnrepresentable(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"NaN", math.NaN()},
		{"+Inf", math.Inf(1)},
		{"nested NaN", map[string]any{"a": []any{1, math.NaN()}}},
		{"channel", make(chan int)},
		{"function", func() {}},
		{"invalid utf8", string([]byte{0xff, 0xfe})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Marshal(tt.input)
			require.Error(t, err)
			assert.True(t, IsUnrepresentable(err), "got %v", err)
		})
	}
}

func TestMarshalUnrepresentablePath(t *testing.T) {
	_, err := Marshal(map[string]any{"weights": []any{0.5, math.Inf(-1)}})
	require.Error(t, err)

	var ue *UnrepresentableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, `$["weights"][1]`, ue.Path)
}

func TestMarshalRawMessage(t *testing.T) {
	raw := json.RawMessage(`{"b": 1.0, "a": [true, null]}`)

	result, err := Marshal(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true,null],"b":1}`, string(result))
}

func TestToTree(t *testing.T) {
	tree, err := ToTree(map[string]any{"n": 3, "s": "x"})
	require.NoError(t, err)

	obj, ok := tree.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), obj["n"])
	assert.Equal(t, "x", obj["s"])
}
