package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quilldb/peersync/internal/backup"
	"github.com/quilldb/peersync/internal/config"
	"github.com/quilldb/peersync/internal/conflict"
	"github.com/quilldb/peersync/internal/engine"
	"github.com/quilldb/peersync/internal/health"
	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/resilience"
	"github.com/quilldb/peersync/internal/scan"
	"github.com/quilldb/peersync/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync engine",
		Long: `Start the peersync engine for this node.

Loads the YAML configuration, opens the node's SQLite store (creating it
if it doesn't exist), registers the configured peers, and starts the sync
loop alongside the health monitor, backup scheduler, and conflict
processor.

Example:
  peersync run --config ./peersync.yaml
  peersync run --config /etc/peersync/node-a.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML configuration (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runNode(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	configureLogging(cfg, opts.Verbose)

	slog.Info("opening store", "path", cfg.StorePath)
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	scanner := scan.NewScanner(cfg.BatchSize)
	defer scanner.Close()

	breakers := resilience.NewBreakerSet(resilience.DefaultMaxFailures, resilience.DefaultOpenTimeout)

	eng := engine.New(st, scanner, conflict.NewResolver(cfg.ResolutionStrategy()), engine.Params{
		NodeID:      cfg.NodeID,
		Priority:    cfg.Priority,
		Tables:      cfg.Tables,
		MaxRetries:  cfg.MaxRetries,
		BatchSize:   cfg.BatchSize,
		ScanTimeout: cfg.ProbeTimeout.Std(),
	}, engine.WithBreakers(breakers))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := eng.RegisterNodes(ctx, cfg.StorePath, peerNodes(cfg)); err != nil {
		return WrapExitError(ExitCommandError, "failed to register nodes", err)
	}

	monitor := health.NewMonitor(scanner, st, breakers,
		cfg.ProbeInterval.Std(), cfg.ProbeTimeout.Std())
	backups := backup.NewScheduler(st, cfg.BackupDir,
		cfg.BackupInterval.Std(), cfg.BackupRetention)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		backups.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		eng.RunConflictProcessor(ctx, cfg.SyncInterval.Std())
	}()

	slog.Info("engine starting",
		"node_id", cfg.NodeID,
		"store", cfg.StorePath,
		"peers", len(cfg.Peers),
		"interval", cfg.SyncInterval.Std(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync engine started. Press Ctrl-C to stop.")

	eng.Run(ctx, cfg.SyncInterval.Std())
	wg.Wait()

	slog.Info("engine stopped gracefully")
	return nil
}

// configureLogging installs the default slog handler per config, with
// --verbose forcing debug level.
func configureLogging(cfg config.Config, verbose bool) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func peerNodes(cfg config.Config) []record.DatabaseNode {
	peers := make([]record.DatabaseNode, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, record.DatabaseNode{
			NodeID:   p.NodeID,
			Location: p.Location,
			Priority: p.Priority,
			IsOnline: true,
		})
	}
	return peers
}
