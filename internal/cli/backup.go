package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quilldb/peersync/internal/backup"
	"github.com/quilldb/peersync/internal/store"
)

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	*RootOptions
	Database  string
	Dir       string
	Retention int
	List      bool
}

// BackupResult holds the outcome of a one-shot snapshot.
type BackupResult struct {
	Path      string   `json:"path,omitempty"`
	Snapshots []string `json:"snapshots,omitempty"`
}

func (r BackupResult) String() string {
	if r.Path != "" {
		return "Snapshot written: " + r.Path
	}
	if len(r.Snapshots) == 0 {
		return "No snapshots."
	}
	out := fmt.Sprintf("%d snapshot(s):", len(r.Snapshots))
	for _, s := range r.Snapshots {
		out += "\n  " + s
	}
	return out
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a snapshot of the store",
		Long: `Take one consistent snapshot of the node's store and prune old
snapshots past the retention count.

Snapshots are full database copies; restoring one is copying it over the
store path while the node is stopped.

Examples:
  peersync backup --db ./peersync.db --dir ./backups
  peersync backup --db ./peersync.db --dir ./backups --retention 10
  peersync backup --db ./peersync.db --dir ./backups --list`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Dir, "dir", "backups", "snapshot directory")
	cmd.Flags().IntVar(&opts.Retention, "retention", 5, "snapshots to keep (0 keeps all)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list existing snapshots instead of taking one")

	return cmd
}

func runBackup(opts *BackupOptions, cmd *cobra.Command) error {
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

	sched := backup.NewScheduler(st, opts.Dir, 0, opts.Retention)

	if opts.List {
		snapshots, err := sched.List()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list snapshots", err)
		}
		return formatter.Success(BackupResult{Snapshots: snapshots})
	}

	path, err := sched.RunOnce(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "snapshot failed", err)
	}
	return formatter.Success(BackupResult{Path: path})
}
