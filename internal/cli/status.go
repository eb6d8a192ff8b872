package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quilldb/peersync/internal/engine"
	"github.com/quilldb/peersync/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report engine state and per-node sync standing",
		Long: `Report the engine state, per-node sync standing, running statistics,
and the number of queued conflicts, read from the node's store.

Works against a stopped node: the state shown is the last persisted one.

Examples:
  peersync status --db ./peersync.db
  peersync status --db ./peersync.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	report, err := engine.ReadStatus(context.Background(), st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read status", err)
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	return formatter.Success(renderStatus(report))
}

// renderStatus builds the human-readable status block.
func renderStatus(report engine.StatusReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "State:             %s\n", report.EngineState)
	fmt.Fprintf(&b, "Records synced:    %d\n", report.Stats.RecordsSynced)
	fmt.Fprintf(&b, "Conflicts resolved: %d\n", report.Stats.ConflictsResolved)
	fmt.Fprintf(&b, "Sync failures:     %d\n", report.Stats.SyncFailures)
	fmt.Fprintf(&b, "Last cycle:        %dms (ema %dms)\n", report.Stats.LastCycleMS, report.Stats.CycleEMAMS)
	fmt.Fprintf(&b, "Conflicts queued:  %d\n", report.ConflictsQueued)

	if len(report.Nodes) > 0 {
		b.WriteString("\nNodes:\n")
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  NODE\tONLINE\tLAST SYNC\tLAG")
		for _, n := range report.Nodes {
			lastSync := "never"
			if !n.LastSync.IsZero() {
				lastSync = n.LastSync.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %s\t%t\t%s\t%dms\n", n.NodeID, n.Online, lastSync, n.LagMS)
		}
		w.Flush()
	}

	return strings.TrimRight(b.String(), "\n")
}
