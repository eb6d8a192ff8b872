package scan

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/store"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testNode(id, location string) record.DatabaseNode {
	return record.DatabaseNode{NodeID: id, Location: location, Priority: 1, IsOnline: true}
}

// createPeerStore creates a peer store file with some changed records.
func createPeerStore(t *testing.T, keys ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peer.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	for i, key := range keys {
		rec := record.StoredRecord{
			TableName: "users",
			Key:       key,
			Payload: record.Object{
				record.KeyField: record.String(key),
				"data":          record.String("remote-" + key),
			},
			Version:   1,
			UpdatedAt: testEpoch.Add(time.Duration(i) * time.Second),
		}
		_, err := s.UpsertRecord(context.Background(), rec)
		require.NoError(t, err)
	}
	return path
}

func TestScanChanges_ReadsPeerStore(t *testing.T) {
	path := createPeerStore(t, "u1", "u2", "u3")
	sc := NewScanner(10)
	defer sc.Close()

	records, err := sc.ScanChanges(context.Background(), testNode("peer-1", path), "users", record.SyncCheckpoint{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "u1", records[0].Key)
	assert.Equal(t, "u3", records[2].Key)
}

func TestScanChanges_CursorSkipsAlreadySeen(t *testing.T) {
	path := createPeerStore(t, "u1", "u2", "u3")
	sc := NewScanner(10)
	defer sc.Close()

	// Cursor at u2's timestamp: only u3 is strictly newer.
	cp := record.SyncCheckpoint{Cursor: record.FormatCursor(testEpoch.Add(time.Second))}
	records, err := sc.ScanChanges(context.Background(), testNode("peer-1", path), "users", cp)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u3", records[0].Key)
}

func TestScanChanges_BatchBounded(t *testing.T) {
	path := createPeerStore(t, "u1", "u2", "u3", "u4")
	sc := NewScanner(2)
	defer sc.Close()

	records, err := sc.ScanChanges(context.Background(), testNode("peer-1", path), "users", record.SyncCheckpoint{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestScanChanges_MissingFileIsConnectivityError(t *testing.T) {
	sc := NewScanner(10)
	defer sc.Close()

	node := testNode("peer-1", filepath.Join(t.TempDir(), "absent.db"))
	_, err := sc.ScanChanges(context.Background(), node, "users", record.SyncCheckpoint{})
	require.Error(t, err)
	assert.True(t, IsConnectivity(err), "missing peer file should be a connectivity error, got %v", err)

	var ce *ConnectivityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "peer-1", ce.NodeID)
}

func TestScanChanges_SourceCachedBetweenScans(t *testing.T) {
	opens := 0
	src := &fakeSource{}
	sc := NewScanner(10, WithOpenFunc(func(nodeID, location string) (Source, error) {
		opens++
		return src, nil
	}))
	defer sc.Close()

	node := testNode("peer-1", "fake")
	for i := 0; i < 3; i++ {
		_, err := sc.ScanChanges(context.Background(), node, "users", record.SyncCheckpoint{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, opens, "source should be opened once and cached")
}

func TestScanChanges_FailingSourceInvalidated(t *testing.T) {
	src := &fakeSource{listErr: errors.New("i/o error")}
	opens := 0
	sc := NewScanner(10, WithOpenFunc(func(nodeID, location string) (Source, error) {
		opens++
		return src, nil
	}))
	defer sc.Close()

	node := testNode("peer-1", "fake")
	_, err := sc.ScanChanges(context.Background(), node, "users", record.SyncCheckpoint{})
	require.True(t, IsConnectivity(err))
	assert.True(t, src.closed, "failing source should be closed")

	src.listErr = nil
	_, err = sc.ScanChanges(context.Background(), node, "users", record.SyncCheckpoint{})
	require.NoError(t, err)
	assert.Equal(t, 2, opens, "source should be reopened after failure")
}

func TestPing_HealthyAndMissing(t *testing.T) {
	path := createPeerStore(t, "u1")
	sc := NewScanner(10)
	defer sc.Close()

	require.NoError(t, sc.Ping(context.Background(), testNode("peer-1", path)))

	missing := testNode("peer-2", filepath.Join(t.TempDir(), "absent.db"))
	err := sc.Ping(context.Background(), missing)
	assert.True(t, IsConnectivity(err))
}

type fakeSource struct {
	records []record.StoredRecord
	listErr error
	pingErr error
	closed  bool
}

func (f *fakeSource) ListChangedRecords(ctx context.Context, table, sinceCursor string, limit int) ([]record.StoredRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeSource) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}
