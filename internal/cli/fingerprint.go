package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/phaseledger/internal/runner"
)

// FingerprintOptions holds flags for the fingerprint command.
type FingerprintOptions struct {
	*RootOptions
	Config string
}

// FingerprintResult is the JSON payload of the fingerprint command.
type FingerprintResult struct {
	Fingerprint          string `json:"fingerprint"`
	ContractVersion      string `json:"contract_version"`
	AgentContractVersion string `json:"agent_contract_version"`
}

// NewFingerprintCommand creates the fingerprint command.
func NewFingerprintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FingerprintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the run fingerprint for a configuration",
		Long: `Compute the fingerprint every run with this configuration will carry.
It covers the pipeline definition, the behavior-defining config fields,
and the contract versions. Without --config the defaults are used.

Examples:
  phaseledger fingerprint
  phaseledger fingerprint --config ./run.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFingerprint(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "run configuration (.cue, .yaml or .yml)")

	return cmd
}

func runFingerprint(opts *FingerprintOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		_ = formatter.Error(loadErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	r, err := runner.New(runner.DryRunAgent{ContractVersion: cfg.AgentContractVersion}, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	fp, err := r.Fingerprint()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute fingerprint", err)
	}

	result := FingerprintResult{
		Fingerprint:          fp,
		ContractVersion:      cfg.ContractVersion,
		AgentContractVersion: cfg.AgentContractVersion,
	}
	return formatter.Render("ok", "", result, func(w io.Writer) {
		fmt.Fprintln(w, fp)
	})
}
