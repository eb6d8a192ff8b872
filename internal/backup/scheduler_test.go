package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/peersync/internal/testutil"
)

// fileSnapshotter writes a marker file; the store's real VACUUM INTO path
// is covered by the store package tests.
type fileSnapshotter struct{}

func (fileSnapshotter) BackupTo(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("snapshot"), 0o644)
}

func TestRunOnce_WritesTimestampedSnapshot(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewScheduler(fileSnapshotter{}, dir, time.Minute, 5, WithClock(clock.Now))

	path, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "peersync-20250601T120000.000.db"), path)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRetention_KeepsNewestN(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	const retention = 3
	s := NewScheduler(fileSnapshotter{}, dir, time.Minute, retention, WithClock(clock.Now))

	var created []string
	for i := 0; i < 5; i++ {
		path, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		created = append(created, path)
		clock.Advance(time.Minute)
	}

	remaining, err := s.List()
	require.NoError(t, err)
	require.Len(t, remaining, retention)

	// Exactly the newest N survive, in order.
	assert.Equal(t, created[2:], remaining)
}

func TestRetention_ZeroKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := NewScheduler(fileSnapshotter{}, dir, time.Minute, 0, WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		_, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	remaining, err := s.List()
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "peersync-20250601T120000.000.db"), []byte("x"), 0o644))

	s := NewScheduler(fileSnapshotter{}, dir, time.Minute, 3)
	snapshots, err := s.List()
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}
