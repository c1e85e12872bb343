package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/replay"
	"github.com/roach88/phaseledger/internal/store"
)

// RunsOptions holds flags shared by the runs subcommands.
type RunsOptions struct {
	*RootOptions
	Database string
}

// NewRunsCommand creates the runs command and its subcommands.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs stored in a database",
		Long: `List and show runs persisted by dry-run --db.

The database defaults to $PHASELEDGER_DB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $PHASELEDGER_DB)")

	cmd.AddCommand(newRunsListCommand(opts))
	cmd.AddCommand(newRunsShowCommand(opts))

	return cmd
}

func newRunsListCommand(opts *RunsOptions) *cobra.Command {
	var list store.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		Long: `List stored runs in creation order.

Examples:
  phaseledger runs list --db ./ledger.db
  phaseledger runs list --db ./ledger.db --fingerprint <hash> --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(opts, list, cmd)
		},
	}

	cmd.Flags().StringVar(&list.Fingerprint, "fingerprint", "", "only runs with this fingerprint")
	cmd.Flags().IntVar(&list.Limit, "limit", 0, "maximum number of runs (0 = all)")

	return cmd
}

func runRunsList(opts *RunsOptions, list store.ListOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), list)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	return formatter.Render("ok", "", runs, func(w io.Writer) {
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs stored")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tTERMINATION\tREPLAY\tENTRIES\tFAILURE")
		for _, r := range runs {
			failure := "-"
			if r.FailureClass != "" {
				failure = fmt.Sprintf("%s@%s", r.FailureClass, r.FailurePhase)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.RunID, r.TerminationReason, r.ReplayStatus, r.EntryCount, failure)
		}
		_ = tw.Flush()
	})
}

// ShowResult is the JSON payload of runs show.
type ShowResult struct {
	Trace  map[string]any `json:"trace"`
	Report replay.Report  `json:"report"`
}

func newRunsShowCommand(opts *RunsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run and validate it",
		Long: `Print the stored trace document of a run as canonical JSON.

The stored trace is validated on read, fingerprint included. A trace that
fails validation is still printed, followed by its violations.

Exit codes:
  0 - Run found and valid
  1 - Run found but invalid
  2 - Command error (run not found, database error)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(opts, args[0], cmd)
		},
	}
	return cmd
}

func runRunsShow(opts *RunsOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	doc, err := st.ReadDocument(ctx, runID)
	if err != nil {
		code := ErrCodeStore
		if errors.Is(err, store.ErrNotFound) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	report := replay.ValidateDocument(doc, replay.WithFingerprintCheck())

	if formatter.Format == "json" {
		if err := formatter.Render("ok", runID, ShowResult{Trace: doc, Report: report}, nil); err != nil {
			return err
		}
		if !report.Valid {
			return NewExitError(ExitFailure, fmt.Sprintf("stored run %s has %d violation(s)", runID, len(report.Violations)))
		}
		return nil
	}

	data, err := canonical.Marshal(doc)
	if err != nil {
		_ = formatter.Error(ErrCodeParse, err.Error(), nil)
		return WrapExitError(ExitCommandError, "stored document is not representable", err)
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return outputReport(formatter, runID, report)
}

// openStore opens the database named by --db or PHASELEDGER_DB.
func openStore(opts *RunsOptions, formatter *OutputFormatter) (*store.Store, error) {
	path := databasePath(opts.Database)
	if path == "" {
		_ = formatter.Error(ErrCodeStore, "no database: pass --db or set "+EnvDatabase, nil)
		return nil, NewExitError(ExitCommandError, "no database configured")
	}
	st, err := store.Open(path, store.WithLogger(opts.logger()))
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
