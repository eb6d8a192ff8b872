// Package backup snapshots the primary store to timestamped files and
// prunes old snapshots down to a retention count.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// snapshot filenames sort lexically in creation order.
const snapshotTimeFormat = "20060102T150405.000"

// Snapshotter writes a consistent copy of the store to destPath.
type Snapshotter interface {
	BackupTo(ctx context.Context, destPath string) error
}

// Scheduler performs interval snapshots with retention pruning.
type Scheduler struct {
	store     Snapshotter
	dir       string
	interval  time.Duration
	retention int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock used for snapshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a scheduler that snapshots store into dir every
// interval, keeping the newest retention snapshots.
func NewScheduler(store Snapshotter, dir string, interval time.Duration, retention int, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		dir:       dir,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run snapshots on the scheduler's interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("backup failed", "error", err)
			}
		}
	}
}

// RunOnce takes one snapshot and prunes. Returns the new snapshot's path.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	name := fmt.Sprintf("peersync-%s.db", s.now().UTC().Format(snapshotTimeFormat))
	dest := filepath.Join(s.dir, name)

	if err := s.store.BackupTo(ctx, dest); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	s.logger.Info("backup snapshot written", "path", dest)

	if err := s.Prune(); err != nil {
		return dest, fmt.Errorf("prune: %w", err)
	}
	return dest, nil
}

// Prune deletes all but the newest retention snapshots. retention <= 0
// keeps everything.
func (s *Scheduler) Prune() error {
	if s.retention <= 0 {
		return nil
	}

	snapshots, err := s.List()
	if err != nil {
		return err
	}
	if len(snapshots) <= s.retention {
		return nil
	}

	// List returns oldest first; everything before the retention window goes.
	for _, path := range snapshots[:len(snapshots)-s.retention] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove old snapshot %s: %w", path, err)
		}
		s.logger.Debug("pruned old snapshot", "path", path)
	}
	return nil
}

// List returns existing snapshot paths, oldest first.
func (s *Scheduler) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "peersync-*.db"))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}
