package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// EngineState is the persisted coordinator state plus cumulative statistics.
// A single row holds it so one-shot status queries see the last known values
// even when no engine process is running.
type EngineState struct {
	State             string
	RecordsSynced     int64
	ConflictsResolved int64
	SyncFailures      int64
	LastCycle         time.Duration
	CycleEMA          time.Duration
	UpdatedAt         time.Time
}

// SaveEngineState overwrites the single persisted engine state row.
func (s *Store) SaveEngineState(ctx context.Context, st EngineState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (id, state, records_synced, conflicts_resolved, sync_failures, last_cycle_ms, cycle_ema_ms, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			records_synced = excluded.records_synced,
			conflicts_resolved = excluded.conflicts_resolved,
			sync_failures = excluded.sync_failures,
			last_cycle_ms = excluded.last_cycle_ms,
			cycle_ema_ms = excluded.cycle_ema_ms,
			updated_at = excluded.updated_at
	`,
		st.State,
		st.RecordsSynced,
		st.ConflictsResolved,
		st.SyncFailures,
		st.LastCycle.Milliseconds(),
		st.CycleEMA.Milliseconds(),
		record.FormatCursor(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}

// LoadEngineState reads the persisted engine state. found is false when no
// engine has ever written state to this store.
func (s *Store) LoadEngineState(ctx context.Context) (st EngineState, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, records_synced, conflicts_resolved, sync_failures, last_cycle_ms, cycle_ema_ms, updated_at
		FROM engine_state
		WHERE id = 1
	`)

	var lastCycleMS, emaMS int64
	var updatedAt string
	err = row.Scan(&st.State, &st.RecordsSynced, &st.ConflictsResolved, &st.SyncFailures, &lastCycleMS, &emaMS, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EngineState{}, false, nil
	}
	if err != nil {
		return EngineState{}, false, fmt.Errorf("load engine state: %w", err)
	}

	st.LastCycle = time.Duration(lastCycleMS) * time.Millisecond
	st.CycleEMA = time.Duration(emaMS) * time.Millisecond
	st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return EngineState{}, false, fmt.Errorf("load engine state: parse updated_at: %w", err)
	}
	return st, true, nil
}
