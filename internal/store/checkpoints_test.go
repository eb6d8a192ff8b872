package store

import (
	"context"
	"testing"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

func TestUpsertCheckpoint_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cp := record.SyncCheckpoint{
		NodeID:      "node-a",
		TableName:   "users",
		Cursor:      record.FormatCursor(testEpoch),
		LastSync:    testEpoch,
		RecordCount: 42,
		Checksum:    "abc123",
	}
	if err := s.UpsertCheckpoint(ctx, cp); err != nil {
		t.Fatalf("UpsertCheckpoint() failed: %v", err)
	}

	got, found, err := s.GetCheckpoint(ctx, "node-a", "users")
	if err != nil {
		t.Fatalf("GetCheckpoint() failed: %v", err)
	}
	if !found {
		t.Fatal("checkpoint not found after upsert")
	}
	if got.Cursor != cp.Cursor {
		t.Errorf("cursor = %q, want %q", got.Cursor, cp.Cursor)
	}
	if got.RecordCount != 42 {
		t.Errorf("record_count = %d, want 42", got.RecordCount)
	}
	if got.Checksum != "abc123" {
		t.Errorf("checksum = %q, want abc123", got.Checksum)
	}
	if !got.LastSync.Equal(testEpoch) {
		t.Errorf("last_sync = %v, want %v", got.LastSync, testEpoch)
	}
}

func TestUpsertCheckpoint_ForwardAdvanceUpdatesAllColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := record.SyncCheckpoint{
		NodeID:      "node-a",
		TableName:   "users",
		Cursor:      record.FormatCursor(testEpoch),
		LastSync:    testEpoch,
		RecordCount: 10,
		Checksum:    "batch-1",
	}
	if err := s.UpsertCheckpoint(ctx, first); err != nil {
		t.Fatalf("UpsertCheckpoint(first) failed: %v", err)
	}

	advanced := record.SyncCheckpoint{
		NodeID:      "node-a",
		TableName:   "users",
		Cursor:      record.FormatCursor(testEpoch.Add(time.Minute)),
		LastSync:    testEpoch.Add(time.Minute),
		RecordCount: 25,
		Checksum:    "batch-2",
	}
	if err := s.UpsertCheckpoint(ctx, advanced); err != nil {
		t.Fatalf("UpsertCheckpoint(advanced) failed: %v", err)
	}

	got, _, err := s.GetCheckpoint(ctx, "node-a", "users")
	if err != nil {
		t.Fatalf("GetCheckpoint() failed: %v", err)
	}
	if got.Cursor != advanced.Cursor {
		t.Errorf("cursor = %q, want %q", got.Cursor, advanced.Cursor)
	}
	if !got.LastSync.Equal(advanced.LastSync) {
		t.Errorf("last_sync = %v, want %v", got.LastSync, advanced.LastSync)
	}
	if got.RecordCount != 25 {
		t.Errorf("record_count = %d, want 25", got.RecordCount)
	}
	if got.Checksum != "batch-2" {
		t.Errorf("checksum = %q, want batch-2", got.Checksum)
	}
}

func TestGetCheckpoint_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.GetCheckpoint(context.Background(), "node-a", "users")
	if err != nil {
		t.Fatalf("GetCheckpoint() failed: %v", err)
	}
	if found {
		t.Error("found = true for absent checkpoint")
	}
}

func TestUpsertCheckpoint_CursorOnlyAdvances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	newer := record.SyncCheckpoint{
		NodeID:    "node-a",
		TableName: "users",
		Cursor:    record.FormatCursor(testEpoch.Add(time.Hour)),
		LastSync:  testEpoch.Add(time.Hour),
	}
	if err := s.UpsertCheckpoint(ctx, newer); err != nil {
		t.Fatalf("UpsertCheckpoint(newer) failed: %v", err)
	}

	stale := record.SyncCheckpoint{
		NodeID:    "node-a",
		TableName: "users",
		Cursor:    record.FormatCursor(testEpoch),
		LastSync:  testEpoch,
	}
	if err := s.UpsertCheckpoint(ctx, stale); err != nil {
		t.Fatalf("UpsertCheckpoint(stale) failed: %v", err)
	}

	got, _, err := s.GetCheckpoint(ctx, "node-a", "users")
	if err != nil {
		t.Fatalf("GetCheckpoint() failed: %v", err)
	}
	if got.Cursor != newer.Cursor {
		t.Errorf("cursor rewound to %q, want %q", got.Cursor, newer.Cursor)
	}
}

func TestUpsertCheckpoint_FractionalCursorNotRewound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// A half-second cursor followed by a stale whole-second one: under a
	// trimmed-zero encoding the stale string would sort higher and rewind
	// the checkpoint.
	newer := record.SyncCheckpoint{
		NodeID:    "node-a",
		TableName: "users",
		Cursor:    record.FormatCursor(testEpoch.Add(500 * time.Millisecond)),
		LastSync:  testEpoch.Add(500 * time.Millisecond),
	}
	if err := s.UpsertCheckpoint(ctx, newer); err != nil {
		t.Fatalf("UpsertCheckpoint(newer) failed: %v", err)
	}

	stale := record.SyncCheckpoint{
		NodeID:    "node-a",
		TableName: "users",
		Cursor:    record.FormatCursor(testEpoch),
		LastSync:  testEpoch,
	}
	if err := s.UpsertCheckpoint(ctx, stale); err != nil {
		t.Fatalf("UpsertCheckpoint(stale) failed: %v", err)
	}

	got, _, err := s.GetCheckpoint(ctx, "node-a", "users")
	if err != nil {
		t.Fatalf("GetCheckpoint() failed: %v", err)
	}
	if got.Cursor != newer.Cursor {
		t.Errorf("cursor rewound to %q, want %q", got.Cursor, newer.Cursor)
	}
}

func TestUpsertCheckpoint_PairIsolation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cps := []record.SyncCheckpoint{
		{NodeID: "node-a", TableName: "users", Cursor: record.FormatCursor(testEpoch), LastSync: testEpoch},
		{NodeID: "node-a", TableName: "orders", Cursor: record.FormatCursor(testEpoch.Add(time.Minute)), LastSync: testEpoch},
		{NodeID: "node-b", TableName: "users", Cursor: record.FormatCursor(testEpoch.Add(2 * time.Minute)), LastSync: testEpoch},
	}
	for _, cp := range cps {
		if err := s.UpsertCheckpoint(ctx, cp); err != nil {
			t.Fatalf("UpsertCheckpoint(%s/%s) failed: %v", cp.NodeID, cp.TableName, err)
		}
	}

	all, err := s.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	got, found, err := s.GetCheckpoint(ctx, "node-a", "orders")
	if err != nil {
		t.Fatalf("GetCheckpoint() failed: %v", err)
	}
	if !found {
		t.Fatal("checkpoint node-a/orders not found")
	}
	if got.Cursor != cps[1].Cursor {
		t.Errorf("cursor = %q, want %q", got.Cursor, cps[1].Cursor)
	}
}
