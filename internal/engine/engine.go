package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quilldb/peersync/internal/conflict"
	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/resilience"
	"github.com/quilldb/peersync/internal/scan"
	"github.com/quilldb/peersync/internal/store"
)

// emaAlpha weights the newest cycle duration in the moving average.
const emaAlpha = 0.2

// ChangeScanner reads change batches from peer nodes.
// Implemented by scan.Scanner; tests substitute fakes.
type ChangeScanner interface {
	ScanChanges(ctx context.Context, node record.DatabaseNode, table string, cp record.SyncCheckpoint) ([]record.StoredRecord, error)
}

// Stats are the engine's running statistics. Cumulative counters survive
// restarts via the persisted engine state row.
type Stats struct {
	RecordsSynced     int64         `json:"records_synced"`
	ConflictsResolved int64         `json:"conflicts_resolved"`
	SyncFailures      int64         `json:"sync_failures"`
	LastCycle         time.Duration `json:"last_cycle_ms"`
	CycleEMA          time.Duration `json:"cycle_ema_ms"`
}

// Params are the engine's required configuration values.
type Params struct {
	// NodeID identifies this node; stamped as origin_agent_id on enqueued
	// operations.
	NodeID string

	// Priority is this node's conflict resolution priority (lower wins).
	Priority int

	// Tables are the domain tables synchronized each cycle.
	Tables []string

	// MaxRetries bounds per-operation apply attempts before the operation
	// is permanently parked.
	MaxRetries int

	// BatchSize bounds queue drains and per-scan record counts.
	BatchSize int

	// ScanTimeout bounds each per-node, per-table scan call.
	ScanTimeout time.Duration
}

// Engine is the sync cycle coordinator.
//
// A single mutual-exclusion scope guards an entire cycle: cycleMu is
// acquired with TryLock so concurrent timer ticks are dropped rather than
// queued. Every store write inside a cycle is a single atomic statement, so
// the health monitor, backup scheduler, and conflict auto-processor run
// concurrently without taking any engine-wide lock.
type Engine struct {
	store    *store.Store
	scanner  ChangeScanner
	resolver *conflict.Resolver
	breakers *resilience.BreakerSet
	retry    *resilience.RetryPolicy
	idGen    IDGenerator
	now      func() time.Time
	logger   *slog.Logger

	params Params

	cycleMu sync.Mutex // held for the duration of one sync cycle

	mu    sync.Mutex // guards state and stats
	state State
	stats Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator replaces the operation id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithClock replaces the engine's wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRetryPolicy replaces the queue-apply retry policy.
func WithRetryPolicy(p *resilience.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithBreakers injects the breaker set shared with the health monitor so
// recovery can reset it.
func WithBreakers(b *resilience.BreakerSet) Option {
	return func(e *Engine) { e.breakers = b }
}

// New creates an engine over the primary store. State and statistics are
// restored from the store's persisted engine state row; an engine that
// crashed mid-cycle restarts in Error so recovery runs before syncing.
func New(s *store.Store, scanner ChangeScanner, resolver *conflict.Resolver, params Params, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		scanner:  scanner,
		resolver: resolver,
		breakers: resilience.NewBreakerSet(resilience.DefaultMaxFailures, resilience.DefaultOpenTimeout),
		retry:    resilience.NewRetryPolicy(2, 50*time.Millisecond, time.Second),
		idGen:    UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
		params:   params,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}

	st, found, err := s.LoadEngineState(context.Background())
	if err != nil {
		// Unreadable persisted state is an integrity problem, not a fresh
		// start; recovery must run before the next cycle.
		e.logger.Error("persisted engine state unreadable", "error", err)
		e.state = StateError
		return e
	}
	if found {
		e.stats = Stats{
			RecordsSynced:     st.RecordsSynced,
			ConflictsResolved: st.ConflictsResolved,
			SyncFailures:      st.SyncFailures,
			LastCycle:         st.LastCycle,
			CycleEMA:          st.CycleEMA,
		}
		// Syncing or Recovering persisted means the previous process died
		// mid-flight; recovery must run before the next cycle.
		switch State(st.State) {
		case StateSyncing, StateRecovering, StateError:
			e.state = StateError
		case StateConflictPending:
			e.state = StateConflictPending
		}
	}
	return e
}

// RegisterNodes writes the self node and all configured peers into the
// registry. Idempotent; called once at startup.
func (e *Engine) RegisterNodes(ctx context.Context, selfLocation string, peers []record.DatabaseNode) error {
	self := record.DatabaseNode{
		NodeID:    e.params.NodeID,
		Location:  selfLocation,
		Priority:  e.params.Priority,
		IsPrimary: true,
		IsOnline:  true,
	}
	if err := e.store.UpsertNode(ctx, self); err != nil {
		return err
	}
	for _, peer := range peers {
		if err := e.store.UpsertNode(ctx, peer); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue validates and appends an operation to the durable queue,
// returning its generated record id. Validation failures are returned
// synchronously and nothing is written.
func (e *Engine) Enqueue(ctx context.Context, table string, op record.Operation, payload record.Object) (string, error) {
	id := e.idGen.Generate()

	if table == "" {
		return "", NewValidationError(id, "table name is required")
	}
	if !op.Valid() {
		return "", NewValidationError(id, "unknown operation kind")
	}
	if len(payload) == 0 {
		return "", NewValidationError(id, "payload must not be empty")
	}
	key, ok := payload[record.KeyField].(record.String)
	if !ok || key == "" {
		return "", NewValidationError(id, "payload must carry a non-empty string 'key' field")
	}

	fp, err := record.Fingerprint(payload)
	if err != nil {
		return "", NewValidationError(id, "payload not fingerprintable: "+err.Error())
	}

	rec := record.SyncRecord{
		RecordID:        id,
		TableName:       table,
		Op:              op,
		Payload:         payload.Clone(),
		OriginTimestamp: e.now(),
		OriginAgentID:   e.params.NodeID,
		Version:         1,
		Fingerprint:     fp,
		SyncStatus:      record.StatusPending,
	}
	if err := e.store.EnqueueOperation(ctx, rec); err != nil {
		return "", NewIntegrityError("enqueue operation", err)
	}

	e.logger.Debug("operation enqueued",
		"record_id", id,
		"table", table,
		"op", string(op),
		"key", string(key),
	)
	return id, nil
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ForceSync runs a cycle immediately. Fails fast with false when the engine
// is not in a state that can start a cycle (already syncing, in error, or
// recovering) rather than queuing the request.
func (e *Engine) ForceSync(ctx context.Context) bool {
	if !e.State().CanStartCycle() {
		return false
	}
	e.RunCycle(ctx)
	return true
}

// Run executes sync cycles on interval until ctx is cancelled. A cycle
// failure triggers recovery once; if recovery itself fails the engine stays
// in Error and skips all further ticks until external intervention.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.State().CanStartCycle() {
				e.logger.Debug("sync tick dropped", "state", string(e.State()))
				continue
			}
			e.RunCycle(ctx)
			if e.State() == StateError {
				if err := e.Recover(ctx); err != nil {
					e.logger.Error("recovery failed, engine requires external intervention", "error", err)
				}
			}
		}
	}
}

func (e *Engine) setState(ctx context.Context, s State) {
	e.mu.Lock()
	e.state = s
	stats := e.stats
	e.mu.Unlock()

	// Best-effort persistence so one-shot status queries see the truth.
	err := e.store.SaveEngineState(ctx, store.EngineState{
		State:             string(s),
		RecordsSynced:     stats.RecordsSynced,
		ConflictsResolved: stats.ConflictsResolved,
		SyncFailures:      stats.SyncFailures,
		LastCycle:         stats.LastCycle,
		CycleEMA:          stats.CycleEMA,
		UpdatedAt:         e.now(),
	})
	if err != nil {
		e.logger.Warn("failed to persist engine state", "state", string(s), "error", err)
	}
}

// Stats returns a copy of the running statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

var _ ChangeScanner = (*scan.Scanner)(nil)
