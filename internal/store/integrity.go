package store

import (
	"context"
	"fmt"
	"strings"
)

// requiredTables is the set of tables the engine cannot run without.
var requiredTables = []string{
	"records",
	"operations",
	"nodes",
	"checkpoints",
	"conflicts",
	"engine_state",
}

// VerifyIntegrity checks that the database file is structurally sound and
// that every required table exists. A nil return means the store is usable.
func (s *Store) VerifyIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master WHERE type = 'table'
	`)
	if err != nil {
		return fmt.Errorf("integrity check: list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}

	var missing []string
	for _, table := range requiredTables {
		if !present[table] {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("integrity check failed: missing tables: %s", strings.Join(missing, ", "))
	}

	return nil
}

// Repair re-applies the schema. Every statement in it is idempotent, so this
// recreates missing tables and indexes without touching surviving data.
// Structural corruption reported by quick_check is not repairable here;
// restore from a backup instead.
func (s *Store) Repair(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repair schema: %w", err)
	}
	return s.VerifyIntegrity(ctx)
}
