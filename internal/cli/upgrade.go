package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/canonical"
	"github.com/roach88/phaseledger/internal/schema"
)

// UpgradeOptions holds flags for the upgrade command.
type UpgradeOptions struct {
	*RootOptions
	Output string
}

// NewUpgradeCommand creates the upgrade command.
func NewUpgradeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpgradeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upgrade <trace.json>",
		Short: "Upgrade a trace document to the current schema version",
		Long: `Apply the ordered schema migrations to a trace document and print it
as canonical JSON. The input file is never modified.

Examples:
  phaseledger upgrade ./old-run.json
  phaseledger upgrade ./old-run.json -o ./run.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the upgraded document to this file instead of stdout")

	return cmd
}

func runUpgrade(opts *UpgradeOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	_, doc, err := LoadDocument(path)
	if err != nil {
		_ = formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load trace", err)
	}

	from, _ := schema.Version(doc)
	upgraded, err := schema.NewUpgrader(schema.WithLogger(opts.logger())).Upgrade(doc)
	if err != nil {
		_ = formatter.Error(ErrCodeSchema, err.Error(), nil)
		return WrapExitError(ExitFailure, "upgrade failed", err)
	}
	data, err := canonical.Marshal(upgraded)
	if err != nil {
		_ = formatter.Error(ErrCodeParse, err.Error(), nil)
		return WrapExitError(ExitFailure, "upgraded document is not representable", err)
	}
	formatter.Debugf("Upgraded %s from version %d to %d", path, from, schema.CurrentVersion)

	if opts.Output == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	if err := os.WriteFile(opts.Output, append(data, '\n'), 0644); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return formatter.Message(fmt.Sprintf("✓ Upgraded to schema version %d: %s", schema.CurrentVersion, opts.Output))
}
