package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quilldb/peersync/internal/config"
	"github.com/quilldb/peersync/internal/conflict"
	"github.com/quilldb/peersync/internal/engine"
	"github.com/quilldb/peersync/internal/scan"
	"github.com/quilldb/peersync/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	ConfigPath string
}

// SyncResult holds the outcome of a forced cycle.
type SyncResult struct {
	State             string `json:"state"`
	RecordsSynced     int64  `json:"records_synced"`
	ConflictsResolved int64  `json:"conflicts_resolved"`
	SyncFailures      int64  `json:"sync_failures"`
}

func (r SyncResult) String() string {
	return fmt.Sprintf("Cycle finished: state=%s synced=%d resolved=%d failures=%d",
		r.State, r.RecordsSynced, r.ConflictsResolved, r.SyncFailures)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Force one sync cycle and exit",
		Long: `Run a single sync cycle against the configured peers and exit.

The cycle drains the operation queue, scans every online peer from its
checkpoint, and reconciles changes with the configured resolution
strategy. Refused (exit 1) when the persisted engine state does not
permit a cycle; run recovery first via the running node.

Examples:
  peersync sync --config ./peersync.yaml
  peersync sync --config ./peersync.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML configuration (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := context.Background()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	configureLogging(cfg, opts.Verbose)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	scanner := scan.NewScanner(cfg.BatchSize)
	defer scanner.Close()

	eng := engine.New(st, scanner, conflict.NewResolver(cfg.ResolutionStrategy()), engine.Params{
		NodeID:      cfg.NodeID,
		Priority:    cfg.Priority,
		Tables:      cfg.Tables,
		MaxRetries:  cfg.MaxRetries,
		BatchSize:   cfg.BatchSize,
		ScanTimeout: cfg.ProbeTimeout.Std(),
	})
	if err := eng.RegisterNodes(ctx, cfg.StorePath, peerNodes(cfg)); err != nil {
		return WrapExitError(ExitCommandError, "failed to register nodes", err)
	}

	formatter.VerboseLog("Forcing sync cycle on node %s (%d peers)", cfg.NodeID, len(cfg.Peers))

	if !eng.ForceSync(ctx) {
		return NewExitError(ExitFailure,
			fmt.Sprintf("sync refused: engine state %q does not permit a cycle", eng.State()))
	}

	stats := eng.Stats()
	return formatter.Success(SyncResult{
		State:             string(eng.State()),
		RecordsSynced:     stats.RecordsSynced,
		ConflictsResolved: stats.ConflictsResolved,
		SyncFailures:      stats.SyncFailures,
	})
}
