package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackupTo writes a consistent snapshot of the database to destPath using
// VACUUM INTO, which is safe against concurrent readers and produces a
// compacted copy. The destination must not already exist.
func (s *Store) BackupTo(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", destPath)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backup to %s: %w", destPath, err)
	}
	return nil
}
