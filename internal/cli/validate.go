package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/replay"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Fingerprint bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <trace.json>",
		Short: "Validate a persisted trace without re-executing it",
		Long: `Validate a trace document offline.

Upgrades the document to the current schema, then checks header
completeness, phase ordering against the fixed graph, embedded failure
artifacts, the replay status, and every entry digest. With --fingerprint
the run fingerprint is recomputed from the recorded definition and config.

Exit codes:
  0 - Trace is valid
  1 - Trace has violations
  2 - Command error (file not found, etc.)

Examples:
  phaseledger validate ./run.json
  phaseledger validate ./run.json --fingerprint --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Fingerprint, "fingerprint", false, "recompute and check the run fingerprint")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	raw, _, err := LoadDocument(path)
	if err != nil {
		_ = formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load trace", err)
	}

	var vopts []replay.Option
	if opts.Fingerprint {
		vopts = append(vopts, replay.WithFingerprintCheck())
	}
	report := replay.Validate(raw, vopts...)
	formatter.Debugf("Validated %s: %d violation(s)", path, len(report.Violations))

	return outputReport(formatter, "", report)
}

// outputReport renders a validation report and maps an invalid trace to
// ExitFailure.
func outputReport(formatter *OutputFormatter, runID string, report replay.Report) error {
	if report.Valid {
		return formatter.Render("ok", runID, report, func(w io.Writer) {
			fmt.Fprintln(w, "✓ Trace valid")
		})
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeInvalidTrace, "trace validation failed", report.Violations)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Trace invalid (%d violation(s))\n", len(report.Violations))
		for _, v := range report.Violations {
			fmt.Fprintf(formatter.Writer, "  %s\n", v)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("trace has %d violation(s)", len(report.Violations)))
}
