package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/replay"
)

// CompareOptions holds flags for the compare command.
type CompareOptions struct {
	*RootOptions
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compare <expected.json> <actual.json>",
		Short: "Compare two traces and classify any difference",
		Long: `Compare the deterministic content of two traces.

Timestamps, durations and other observational fields are ignored. When
the traces differ, the first difference is classified as config drift,
model drift, prompt drift, a non-deterministic field (the expected run
was non-replayable), or unknown.

Exit codes:
  0 - Traces match
  1 - Traces differ
  2 - Command error (file not found, etc.)

Examples:
  phaseledger compare ./golden.json ./run.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(opts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runCompare(opts *CompareOptions, expectedPath, actualPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	_, expected, err := LoadDocument(expectedPath)
	if err != nil {
		_ = formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load expected trace", err)
	}
	_, actual, err := LoadDocument(actualPath)
	if err != nil {
		_ = formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load actual trace", err)
	}

	m, err := replay.ClassifyMismatch(expected, actual)
	if err != nil {
		_ = formatter.Error(ErrCodeSchema, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compare traces", err)
	}

	if m.Kind == replay.NoMismatch {
		return formatter.Render("ok", "", m, func(w io.Writer) {
			fmt.Fprintln(w, "✓ Traces match")
		})
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeMismatch, string(m.Kind), m)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Traces differ: %s at %s\n", m.Kind, m.Field)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("traces differ: %s", m.Kind))
}
