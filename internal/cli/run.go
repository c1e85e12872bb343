package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run one scenario file, or every *.yaml and *.yml file in a directory.

Each scenario scripts the agent per phase, runs the pipeline against an
in-memory store, validates the stored trace, and checks its assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (path not found, etc.)

Examples:
  phaseledger run ./scenarios
  phaseledger run ./scenarios/retry_recovers.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarios(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	result, err := harness.RunSuite(cmd.Context(), path)
	if err != nil {
		var notFound *harness.ScenarioNotFoundError
		if errors.As(err, &notFound) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "scenario path not found", err)
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if result.Total == 0 {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no scenarios found in %s", path), nil)
		return NewExitError(ExitCommandError, "no scenarios found")
	}

	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}
	if err := formatter.Render(status, "", result, func(w io.Writer) {
		for _, f := range result.Failures {
			fmt.Fprintf(w, "✗ %s\n  %s\n", f.ScenarioPath, f.Error)
		}
		fmt.Fprintf(w, "%d scenario(s): %d passed, %d failed\n", result.Total, result.Passed, result.Failed)
	}); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("[%s] %d scenario(s) failed", ErrCodeScenario, result.Failed))
	}
	return nil
}
