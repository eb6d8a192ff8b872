package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestVerifyIntegrity_HealthyStore(t *testing.T) {
	s := createTestStore(t)

	if err := s.VerifyIntegrity(context.Background()); err != nil {
		t.Errorf("VerifyIntegrity() on healthy store failed: %v", err)
	}
}

func TestVerifyIntegrity_MissingTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec("DROP TABLE checkpoints"); err != nil {
		t.Fatalf("drop table failed: %v", err)
	}

	err := s.VerifyIntegrity(ctx)
	if err == nil {
		t.Fatal("VerifyIntegrity() succeeded with a missing table")
	}
}

func TestRepair_RecreatesMissingTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec("DROP TABLE checkpoints"); err != nil {
		t.Fatalf("drop table failed: %v", err)
	}

	if err := s.Repair(ctx); err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}
	if err := s.VerifyIntegrity(ctx); err != nil {
		t.Errorf("VerifyIntegrity() after Repair() failed: %v", err)
	}
}

func TestRepair_PreservesSurvivingData(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("users", "u1", "alice", 1, testEpoch)
	if _, err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("UpsertRecord() failed: %v", err)
	}
	if _, err := s.db.Exec("DROP TABLE checkpoints"); err != nil {
		t.Fatalf("drop table failed: %v", err)
	}

	if err := s.Repair(ctx); err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}

	got, found, err := s.GetRecord(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if !found {
		t.Fatal("record lost during repair")
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
}

func TestBackupTo_CopyIsOpenable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("users", "u1", "alice", 1, testEpoch)
	if _, err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("UpsertRecord() failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() failed: %v", err)
	}

	copy, err := Open(dest)
	if err != nil {
		t.Fatalf("Open() on backup failed: %v", err)
	}
	defer copy.Close()

	_, found, err := copy.GetRecord(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("GetRecord() on backup failed: %v", err)
	}
	if !found {
		t.Error("record missing from backup copy")
	}
}

func TestBackupTo_RefusesExistingDestination(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := os.WriteFile(dest, []byte("occupied"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := s.BackupTo(ctx, dest); err == nil {
		t.Error("BackupTo() overwrote an existing file")
	}
}
