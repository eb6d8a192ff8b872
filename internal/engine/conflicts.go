package engine

import (
	"context"
	"time"

	"github.com/quilldb/peersync/internal/conflict"
)

// ProcessPendingConflicts re-resolves unresolved non-Manual conflicts, the
// leftovers of a crash between audit insert and resolution apply. Under the
// Manual strategy this is a no-op; queued conflicts wait for an operator.
//
// Every write is a single atomic statement, so this runs concurrently with
// an in-flight sync cycle without any engine-wide lock.
func (e *Engine) ProcessPendingConflicts(ctx context.Context) (int, error) {
	if e.resolver.Strategy() == conflict.StrategyManual {
		return 0, nil
	}

	pending, err := e.store.ListUnresolved(ctx, e.params.BatchSize)
	if err != nil {
		return 0, NewIntegrityError("list unresolved conflicts", err)
	}

	processed := 0
	for _, c := range pending {
		// The originating node's priority is not recorded in the audit row;
		// resolving with equal priorities degrades PriorityBased to its
		// LatestWins tie-break, which is still deterministic.
		res, err := e.resolver.Resolve(c, e.params.Priority, e.params.Priority, e.now())
		if err != nil {
			return processed, NewIntegrityError("re-resolve conflict", err)
		}
		if res.Manual {
			continue
		}

		if err := e.applySnapshot(ctx, c.TableName, c.RecordKey, res.Winner); err != nil {
			return processed, err
		}
		if err := e.store.MarkConflictResolved(ctx, c.ID, res.Winner, e.now()); err != nil {
			return processed, NewIntegrityError("mark conflict resolved", err)
		}

		e.mu.Lock()
		e.stats.ConflictsResolved++
		e.mu.Unlock()
		processed++
		e.logger.Info("pending conflict re-resolved", "conflict_id", c.ID)
	}
	return processed, nil
}

// RunConflictProcessor re-resolves pending conflicts on interval until ctx
// is cancelled.
func (e *Engine) RunConflictProcessor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ProcessPendingConflicts(ctx); err != nil {
				e.logger.Error("conflict processor pass failed", "error", err)
			}
		}
	}
}
