package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quilldb/peersync/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	Repair   bool
}

// VerifyResult holds the verify command output.
type VerifyResult struct {
	Healthy  bool   `json:"healthy"`
	Repaired bool   `json:"repaired,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func (r VerifyResult) String() string {
	switch {
	case r.Healthy && r.Repaired:
		return "Store repaired; integrity verified."
	case r.Healthy:
		return "Store integrity verified."
	default:
		return "Store integrity check FAILED: " + r.Detail
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check store integrity",
		Long: `Run the store integrity check: SQLite quick_check plus presence of
every required table.

With --repair, a failed check re-applies the schema for missing tables
and verifies again. Corrupt pages are not repairable this way; restore
from a snapshot instead.

Examples:
  peersync verify --db ./peersync.db
  peersync verify --db ./peersync.db --repair`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "attempt repair when the check fails")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	verifyErr := st.VerifyIntegrity(ctx)
	if verifyErr == nil {
		return formatter.Success(VerifyResult{Healthy: true})
	}

	if !opts.Repair {
		if err := formatter.Success(VerifyResult{Healthy: false, Detail: verifyErr.Error()}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "integrity check failed")
	}

	formatter.VerboseLog("Integrity check failed (%v), attempting repair", verifyErr)
	if repairErr := st.Repair(ctx); repairErr != nil {
		if err := formatter.Success(VerifyResult{Healthy: false, Detail: repairErr.Error()}); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "repair failed", repairErr)
	}
	return formatter.Success(VerifyResult{Healthy: true, Repaired: true})
}
