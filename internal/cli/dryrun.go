package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/runner"
	"github.com/roach88/phaseledger/internal/store"
	"github.com/roach88/phaseledger/internal/trace"
)

// DryRunOptions holds flags for the dry-run command.
type DryRunOptions struct {
	*RootOptions
	Config    string
	Output    string
	Database  string
	Goal      string
	ContextID string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to trace.UUIDv7Generator.
	RunIDs trace.RunIDGenerator
}

// RunSummary is the JSON payload of the dry-run command.
type RunSummary struct {
	RunID             string `json:"run_id"`
	Fingerprint       string `json:"fingerprint"`
	TerminationReason string `json:"termination_reason"`
	ReplayStatus      string `json:"replay_status"`
	Entries           int    `json:"entries"`
	FailureClass      string `json:"failure_class,omitempty"`
	Output            string `json:"output,omitempty"`
	Database          string `json:"database,omitempty"`
}

// NewDryRunCommand creates the dry-run command.
func NewDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DryRunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Run the pipeline with a deterministic stub agent",
		Long: `Run the full pipeline without a model. Every phase is answered by a
deterministic stub, so the run converges and produces a valid trace.

The sealed trace is written as canonical JSON to --out (or stdout) and,
with --db or PHASELEDGER_DB, stored in a SQLite database.

Examples:
  phaseledger dry-run
  phaseledger dry-run --config ./run.cue --out ./run.json
  phaseledger dry-run --db ./ledger.db --goal "summarize the report"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDryRun(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "run configuration (.cue, .yaml or .yml)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the trace to this file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "store the trace in this SQLite database (default $PHASELEDGER_DB)")
	cmd.Flags().StringVar(&opts.Goal, "goal", "dry run", "task goal")
	cmd.Flags().StringVar(&opts.ContextID, "context-id", "dry-run", "task context ID")

	return cmd
}

func runDryRun(opts *DryRunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.logger()

	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		_ = formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = trace.UUIDv7Generator{}
	}
	ropts := []runner.Option{runner.WithRunIDGenerator(runIDs), runner.WithLogger(logger)}

	dbPath := databasePath(opts.Database)
	if dbPath != "" {
		st, err := store.Open(dbPath, store.WithLogger(logger))
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		ropts = append(ropts, runner.WithSink(st))
	}

	r, err := runner.New(runner.DryRunAgent{ContractVersion: cfg.AgentContractVersion}, cfg, ropts...)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	// Ctrl-C interrupts the run; the trace still records the abort.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A sink failure still returns the sealed trace, which is written out
	// before the store error is reported.
	run, err := r.Run(ctx, runner.Task{Goal: opts.Goal, ContextID: opts.ContextID})
	var sinkErr *runner.SinkError
	if err != nil && !errors.As(err, &sinkErr) {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	data, err := run.Canonical()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to encode trace", err)
	}

	summary := summarize(run)
	summary.Database = dbPath
	switch {
	case opts.Output != "":
		if err := os.WriteFile(opts.Output, append(data, '\n'), 0644); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write trace", err)
		}
		summary.Output = opts.Output
	case formatter.Format != "json":
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}

	if sinkErr != nil {
		_ = formatter.Error(ErrCodeStore, sinkErr.Error(), summary)
		return WrapExitError(ExitCommandError, "failed to store trace", sinkErr)
	}

	status := "ok"
	if run.Failure != nil {
		status = "aborted"
	}
	if err := formatter.Render(status, run.RunID, summary, func(w io.Writer) {
		if run.Failure != nil {
			fmt.Fprintf(w, "✗ Run %s aborted [%s]: %s\n", run.RunID, ErrCodeRunAborted, run.Failure)
		} else if opts.Output != "" {
			fmt.Fprintf(w, "✓ Run %s: %s (%d entries) → %s\n", run.RunID, run.TerminationReason, len(run.Entries), opts.Output)
		}
	}); err != nil {
		return err
	}

	if run.Failure != nil {
		return NewExitError(ExitFailure, fmt.Sprintf("run aborted: %s", run.Failure))
	}
	return nil
}

func summarize(run trace.RunTrace) RunSummary {
	s := RunSummary{
		RunID:             run.RunID,
		Fingerprint:       run.Fingerprint,
		TerminationReason: string(run.TerminationReason),
		ReplayStatus:      string(run.ReplayStatus),
		Entries:           len(run.Entries),
	}
	if run.Failure != nil {
		s.FailureClass = run.Failure.Class().String()
	}
	return s
}
