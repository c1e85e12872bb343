package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp
}

func TestOutputFormatter_Render(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		called := false
		err := f.Render("aborted", "run-1", map[string]int{"entries": 3}, func(io.Writer) { called = true })
		require.NoError(t, err)
		assert.False(t, called)

		resp := decode(t, buf)
		assert.Equal(t, "aborted", resp.Status)
		assert.Equal(t, "run-1", resp.RunID)
		assert.Equal(t, map[string]any{"entries": float64(3)}, resp.Data)
		assert.Nil(t, resp.Error)
	})

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf}

		err := f.Render("ok", "run-1", nil, func(w io.Writer) {
			fmt.Fprintln(w, "✓ Trace valid")
		})
		require.NoError(t, err)
		assert.Equal(t, "✓ Trace valid\n", buf.String())
	})
}

func TestOutputFormatter_Message(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&OutputFormatter{Format: "text", Writer: buf}).Message("✓ Upgraded"))
	assert.Equal(t, "✓ Upgraded\n", buf.String())

	buf.Reset()
	require.NoError(t, (&OutputFormatter{Format: "json", Writer: buf}).Message("✓ Upgraded"))
	resp := decode(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"message": "✓ Upgraded"}, resp.Data)
}

func TestOutputFormatter_Error(t *testing.T) {
	details := []string{"[digest] entries[2].digest: mismatch"}

	tests := []struct {
		name    string
		format  string
		verbose bool
		check   func(t *testing.T, buf *bytes.Buffer)
	}{
		{"json", "json", false, func(t *testing.T, buf *bytes.Buffer) {
			resp := decode(t, buf)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeInvalidTrace, resp.Error.Code)
			assert.Equal(t, "trace validation failed", resp.Error.Message)
			assert.NotNil(t, resp.Error.Details)
		}},
		{"text", "text", false, func(t *testing.T, buf *bytes.Buffer) {
			assert.Equal(t, "Error [E101]: trace validation failed\n", buf.String())
		}},
		{"text verbose", "text", true, func(t *testing.T, buf *bytes.Buffer) {
			assert.Contains(t, buf.String(), "Error [E101]")
			assert.Contains(t, buf.String(), "Details: [[digest] entries[2].digest: mismatch]")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: tt.format, Writer: buf, Verbose: tt.verbose}
			require.NoError(t, f.Error(ErrCodeInvalidTrace, "trace validation failed", details))
			tt.check(t, buf)
		})
	}
}

func TestOutputFormatter_Debugf(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	(&OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}).Debugf("Validated %s", "run.json")
	assert.Empty(t, errOut.String())

	(&OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}).Debugf("Validated %s", "run.json")
	assert.Empty(t, out.String())
	assert.Equal(t, "Validated run.json\n", errOut.String())

	(&OutputFormatter{Format: "text", Writer: out, Verbose: true}).Debugf("no err writer")
	assert.Equal(t, "no err writer\n", out.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "invalid", errors.New("cause")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "outer: invalid: cause", wrapped.Error())
}
