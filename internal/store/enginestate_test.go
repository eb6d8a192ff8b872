package store

import (
	"context"
	"testing"
	"time"
)

func TestEngineState_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	st := EngineState{
		State:             "idle",
		RecordsSynced:     100,
		ConflictsResolved: 3,
		SyncFailures:      1,
		LastCycle:         250 * time.Millisecond,
		CycleEMA:          200 * time.Millisecond,
		UpdatedAt:         testEpoch,
	}
	if err := s.SaveEngineState(ctx, st); err != nil {
		t.Fatalf("SaveEngineState() failed: %v", err)
	}

	got, found, err := s.LoadEngineState(ctx)
	if err != nil {
		t.Fatalf("LoadEngineState() failed: %v", err)
	}
	if !found {
		t.Fatal("engine state not found after save")
	}
	if got.State != "idle" {
		t.Errorf("state = %q, want idle", got.State)
	}
	if got.RecordsSynced != 100 || got.ConflictsResolved != 3 || got.SyncFailures != 1 {
		t.Errorf("stats = %d/%d/%d, want 100/3/1", got.RecordsSynced, got.ConflictsResolved, got.SyncFailures)
	}
	if got.LastCycle != 250*time.Millisecond {
		t.Errorf("last_cycle = %v, want 250ms", got.LastCycle)
	}
}

func TestEngineState_SingleRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := EngineState{State: "syncing", UpdatedAt: testEpoch}
	if err := s.SaveEngineState(ctx, first); err != nil {
		t.Fatalf("first SaveEngineState() failed: %v", err)
	}
	second := EngineState{State: "idle", RecordsSynced: 7, UpdatedAt: testEpoch.Add(time.Second)}
	if err := s.SaveEngineState(ctx, second); err != nil {
		t.Fatalf("second SaveEngineState() failed: %v", err)
	}

	got, _, err := s.LoadEngineState(ctx)
	if err != nil {
		t.Fatalf("LoadEngineState() failed: %v", err)
	}
	if got.State != "idle" || got.RecordsSynced != 7 {
		t.Errorf("state = %q/%d, want idle/7", got.State, got.RecordsSynced)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM engine_state").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("engine_state rows = %d, want 1", count)
	}
}

func TestLoadEngineState_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.LoadEngineState(context.Background())
	if err != nil {
		t.Fatalf("LoadEngineState() failed: %v", err)
	}
	if found {
		t.Error("found = true on fresh store")
	}
}
