package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/store"
)

// NodeStatus is one node's entry in a status report.
type NodeStatus struct {
	NodeID   string    `json:"node_id"`
	Online   bool      `json:"online"`
	LastSync time.Time `json:"last_sync"`
	LagMS    int64     `json:"lag_ms"`
}

// StatusReport is the full observability snapshot: engine state, per-node
// sync standing, running statistics, and the unresolved conflict count.
type StatusReport struct {
	EngineState     string       `json:"engine_state"`
	Nodes           []NodeStatus `json:"nodes"`
	Stats           StatsReport  `json:"stats"`
	ConflictsQueued int          `json:"conflicts_queued"`
}

// StatsReport is the JSON shape of the running statistics.
type StatsReport struct {
	RecordsSynced     int64 `json:"records_synced"`
	ConflictsResolved int64 `json:"conflicts_resolved"`
	SyncFailures      int64 `json:"sync_failures"`
	LastCycleMS       int64 `json:"last_cycle_ms"`
	CycleEMAMS        int64 `json:"cycle_ema_ms"`
}

// Status reports the live engine's state. Always truthful: an engine in
// Error reports Error.
func (e *Engine) Status(ctx context.Context) (StatusReport, error) {
	e.mu.Lock()
	state := e.state
	stats := e.stats
	e.mu.Unlock()

	return buildReport(ctx, e.store, string(state), stats)
}

// ReadStatus builds a status report from persisted state alone, for
// one-shot queries against a store with no engine process attached.
func ReadStatus(ctx context.Context, s *store.Store) (StatusReport, error) {
	st, found, err := s.LoadEngineState(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("load engine state: %w", err)
	}

	state := string(StateIdle)
	stats := Stats{}
	if found {
		state = st.State
		stats = Stats{
			RecordsSynced:     st.RecordsSynced,
			ConflictsResolved: st.ConflictsResolved,
			SyncFailures:      st.SyncFailures,
			LastCycle:         st.LastCycle,
			CycleEMA:          st.CycleEMA,
		}
	}
	return buildReport(ctx, s, state, stats)
}

func buildReport(ctx context.Context, s *store.Store, state string, stats Stats) (StatusReport, error) {
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list nodes: %w", err)
	}

	report := StatusReport{
		EngineState: state,
		Nodes:       make([]NodeStatus, 0, len(nodes)),
		Stats: StatsReport{
			RecordsSynced:     stats.RecordsSynced,
			ConflictsResolved: stats.ConflictsResolved,
			SyncFailures:      stats.SyncFailures,
			LastCycleMS:       stats.LastCycle.Milliseconds(),
			CycleEMAMS:        stats.CycleEMA.Milliseconds(),
		},
	}

	for _, node := range nodes {
		report.Nodes = append(report.Nodes, NodeStatus{
			NodeID:   node.NodeID,
			Online:   node.IsOnline,
			LastSync: node.LastSyncTime,
			LagMS:    node.SyncLag.Milliseconds(),
		})
	}

	queued, err := s.CountUnresolved(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("count unresolved conflicts: %w", err)
	}
	report.ConflictsQueued = queued

	return report, nil
}
