package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/conflict"
	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/resilience"
)

// RunCycle executes one full sync cycle: drain the operation queue, then
// scan every online peer in priority order and reconcile its changes.
// Concurrent calls are dropped, not queued; the second caller returns
// immediately.
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.cycleMu.TryLock() {
		e.logger.Debug("sync cycle already in progress, tick dropped")
		return
	}
	defer e.cycleMu.Unlock()

	if !e.State().CanStartCycle() {
		return
	}

	start := e.now()
	e.setState(ctx, StateSyncing)
	e.logger.Info("sync cycle started")

	err := e.runCycle(ctx)

	elapsed := e.now().Sub(start)
	e.recordCycleTime(elapsed)

	if err != nil {
		e.mu.Lock()
		e.stats.SyncFailures++
		e.mu.Unlock()
		e.setState(ctx, StateError)
		e.logger.Error("sync cycle failed", "error", err, "duration", elapsed)
		return
	}

	end := StateIdle
	if queued, cErr := e.store.CountUnresolved(ctx); cErr == nil && queued > 0 {
		end = StateConflictPending
	}
	e.setState(ctx, end)
	e.logger.Info("sync cycle finished", "state", string(end), "duration", elapsed)
}

func (e *Engine) runCycle(ctx context.Context) error {
	if err := e.applyQueue(ctx); err != nil {
		return err
	}

	peers, err := e.store.ListOnlinePeers(ctx)
	if err != nil {
		return NewIntegrityError("list online peers", err)
	}

	for _, node := range peers {
		if err := e.syncNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// applyQueue drains pending operations oldest first and applies each to the
// primary store. A fingerprint mismatch rejects the operation; transient
// apply failures consume one retry from the operation's budget.
func (e *Engine) applyQueue(ctx context.Context) error {
	ops, err := e.store.DrainPending(ctx, e.params.BatchSize, e.params.MaxRetries)
	if err != nil {
		return NewIntegrityError("drain operation queue", err)
	}

	for _, op := range ops {
		if err := e.applyOperation(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyOperation(ctx context.Context, op record.SyncRecord) error {
	fp, fpErr := record.Fingerprint(op.Payload)
	if fpErr != nil || fp != op.Fingerprint {
		e.logger.Warn("operation rejected: fingerprint mismatch",
			"record_id", op.RecordID,
			"table", op.TableName,
		)
		return e.failOperation(ctx, op)
	}

	applyErr := e.retry.Do(ctx, func() error {
		return e.applyToStore(ctx, op)
	})
	if applyErr != nil {
		e.logger.Warn("operation apply failed",
			"record_id", op.RecordID,
			"table", op.TableName,
			"error", applyErr,
		)
		return e.failOperation(ctx, op)
	}

	if err := e.store.MarkSynced(ctx, op.RecordID); err != nil {
		return NewIntegrityError("mark operation synced", err)
	}
	e.mu.Lock()
	e.stats.RecordsSynced++
	e.mu.Unlock()
	return nil
}

// applyToStore applies one operation's mutation. Versions grow from the
// stored record, so replaying an already-applied operation cannot rewind.
func (e *Engine) applyToStore(ctx context.Context, op record.SyncRecord) error {
	key := op.Key()
	if key == "" {
		return resilience.Permanent(NewValidationError(op.RecordID, "payload missing key field"))
	}

	if op.Op == record.OpDelete {
		return e.store.DeleteRecord(ctx, op.TableName, key)
	}

	version := int64(1)
	if existing, found, err := e.store.GetRecord(ctx, op.TableName, key); err != nil {
		return err
	} else if found {
		version = existing.Version + 1
	}

	_, err := e.store.UpsertRecord(ctx, record.StoredRecord{
		TableName: op.TableName,
		Key:       key,
		Payload:   op.Payload,
		Version:   version,
		UpdatedAt: op.OriginTimestamp,
	})
	return err
}

func (e *Engine) failOperation(ctx context.Context, op record.SyncRecord) error {
	exhausted, err := e.store.MarkFailed(ctx, op.RecordID, e.params.MaxRetries)
	if err != nil {
		return NewIntegrityError("mark operation failed", err)
	}
	e.mu.Lock()
	e.stats.SyncFailures++
	e.mu.Unlock()

	if exhausted {
		e.logger.Error("operation permanently parked",
			"record_id", op.RecordID,
			"error", NewExhaustedError(op.RecordID, e.params.MaxRetries).Error(),
		)
	}
	return nil
}

// syncNode scans one peer's tables from their checkpoints and reconciles
// each changed record. Connectivity failures skip the node for this cycle
// only; the registry online flag is never touched here.
func (e *Engine) syncNode(ctx context.Context, node record.DatabaseNode) error {
	for _, table := range e.params.Tables {
		cp, found, err := e.store.GetCheckpoint(ctx, node.NodeID, table)
		if err != nil {
			return NewIntegrityError("load checkpoint", err)
		}
		if !found {
			cp = record.SyncCheckpoint{NodeID: node.NodeID, TableName: table}
		}

		scanCtx, cancel := context.WithTimeout(ctx, e.params.ScanTimeout)
		records, scanErr := e.scanner.ScanChanges(scanCtx, node, table, cp)
		cancel()
		if scanErr != nil {
			e.logger.Warn("node skipped for this cycle",
				"node_id", node.NodeID,
				"table", table,
				"error", NewConnectivityError(node.NodeID, scanErr).Error(),
			)
			return nil
		}
		if len(records) == 0 {
			continue
		}

		for _, remote := range records {
			if err := e.reconcile(ctx, node, remote, cp); err != nil {
				return err
			}
		}

		if err := e.advanceCheckpoint(ctx, node, cp, records); err != nil {
			return err
		}
	}
	return nil
}

// reconcile routes one remote record through conflict detection and applies
// the outcome.
func (e *Engine) reconcile(ctx context.Context, node record.DatabaseNode, remote record.StoredRecord, cp record.SyncCheckpoint) error {
	local, found, err := e.store.GetRecord(ctx, remote.TableName, remote.Key)
	if err != nil {
		return NewIntegrityError("load local record", err)
	}

	switch conflict.Detect(local, found, remote, cp.CursorTime()) {
	case conflict.OutcomeInSync:
		return nil

	case conflict.OutcomeInsert, conflict.OutcomeUpdate:
		if _, err := e.store.UpsertRecord(ctx, remote); err != nil {
			return NewIntegrityError("apply remote record", err)
		}
		e.mu.Lock()
		e.stats.RecordsSynced++
		e.mu.Unlock()
		return nil

	case conflict.OutcomeConflict:
		return e.resolveConflict(ctx, node, local, remote)

	default:
		return nil
	}
}

// resolveConflict persists the audit row, applies the winning snapshot, and
// marks the row resolved, in that order. A Manual strategy stops after the
// audit row; the conflict stays queued.
func (e *Engine) resolveConflict(ctx context.Context, node record.DatabaseNode, local, remote record.StoredRecord) error {
	now := e.now()
	c := conflict.NewConflict(local, remote, e.resolver.Strategy(), now)

	id, err := e.store.InsertConflict(ctx, c)
	if err != nil {
		return NewIntegrityError("persist conflict audit", err)
	}

	res, err := e.resolver.Resolve(c, e.params.Priority, node.Priority, now)
	if err != nil {
		return NewIntegrityError("resolve conflict", err)
	}
	if res.Manual {
		e.logger.Info("conflict queued for manual review",
			"conflict_id", id,
			"table", c.TableName,
			"key", c.RecordKey,
		)
		return nil
	}

	if err := e.applySnapshot(ctx, c.TableName, c.RecordKey, res.Winner); err != nil {
		return err
	}
	if err := e.store.MarkConflictResolved(ctx, id, res.Winner, e.now()); err != nil {
		return NewIntegrityError("mark conflict resolved", err)
	}

	e.mu.Lock()
	e.stats.ConflictsResolved++
	e.mu.Unlock()
	e.logger.Info("conflict resolved",
		"conflict_id", id,
		"table", c.TableName,
		"key", c.RecordKey,
		"strategy", string(e.resolver.Strategy()),
	)
	return nil
}

// applySnapshot writes a winning snapshot to the primary store. A winner
// may carry a lower version than the stored row (LatestWins picks by
// timestamp, not version); the store's version guard would skip that write,
// so the winning payload is re-applied at the stored version to land
// without rewinding version monotonicity.
func (e *Engine) applySnapshot(ctx context.Context, table, key string, snap record.Snapshot) error {
	written, err := e.store.UpsertRecord(ctx, record.StoredRecord{
		TableName: table,
		Key:       key,
		Payload:   snap.Payload,
		Version:   snap.Version,
		UpdatedAt: snap.UpdatedAt,
	})
	if err != nil {
		return NewIntegrityError("apply resolved snapshot", err)
	}
	if written {
		return nil
	}

	current, found, err := e.store.GetRecord(ctx, table, key)
	if err != nil {
		return NewIntegrityError("reread record for resolved snapshot", err)
	}
	if !found {
		return NewIntegrityError("apply resolved snapshot",
			fmt.Errorf("write for %s/%s skipped but no stored row exists", table, key))
	}
	if _, err := e.store.UpsertRecord(ctx, record.StoredRecord{
		TableName: table,
		Key:       key,
		Payload:   snap.Payload,
		Version:   current.Version,
		UpdatedAt: snap.UpdatedAt,
	}); err != nil {
		return NewIntegrityError("apply resolved snapshot", err)
	}
	return nil
}

// advanceCheckpoint moves the (node, table) cursor to the newest record in
// the batch. records is ordered oldest first.
func (e *Engine) advanceCheckpoint(ctx context.Context, node record.DatabaseNode, cp record.SyncCheckpoint, records []record.StoredRecord) error {
	newest := records[len(records)-1].UpdatedAt
	now := e.now()

	next := record.SyncCheckpoint{
		NodeID:      node.NodeID,
		TableName:   cp.TableName,
		Cursor:      record.FormatCursor(newest),
		LastSync:    now,
		RecordCount: cp.RecordCount + int64(len(records)),
		Checksum:    batchChecksum(records),
	}
	if next.TableName == "" {
		next.TableName = records[0].TableName
	}
	if err := e.store.UpsertCheckpoint(ctx, next); err != nil {
		return NewIntegrityError("advance checkpoint", err)
	}

	lag := now.Sub(newest)
	if lag < 0 {
		lag = 0
	}
	if err := e.store.UpdateNodeSync(ctx, node.NodeID, now, lag); err != nil {
		return NewIntegrityError("update node sync", err)
	}
	return nil
}

// batchChecksum hashes the batch's record fingerprints in order, giving the
// checkpoint a cheap integrity cross-check of what was scanned.
func batchChecksum(records []record.StoredRecord) string {
	h := sha256.New()
	for _, rec := range records {
		h.Write([]byte(rec.Fingerprint))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) recordCycleTime(elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.LastCycle = elapsed
	if e.stats.CycleEMA == 0 {
		e.stats.CycleEMA = elapsed
		return
	}
	e.stats.CycleEMA += time.Duration(emaAlpha * float64(elapsed-e.stats.CycleEMA))
}
