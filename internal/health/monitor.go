// Package health probes peer node reachability and maintains the registry
// online flag. It is the only component allowed to flip that flag; the sync
// cycle treats scan failures as cycle-local.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/resilience"
)

// DefaultFailureThreshold is the number of consecutive probe failures that
// flip a node offline. A single success flips it back online.
const DefaultFailureThreshold = 3

// Prober performs a lightweight reachability check against a node.
type Prober interface {
	Ping(ctx context.Context, node record.DatabaseNode) error
}

// Registry is the slice of the store the monitor needs.
type Registry interface {
	ListPeers(ctx context.Context) ([]record.DatabaseNode, error)
	SetNodeOnline(ctx context.Context, nodeID string, online bool) error
}

// Monitor probes every registered peer on a fixed interval and applies
// offline hysteresis: threshold consecutive failures mark a node offline,
// one success marks it online again.
type Monitor struct {
	prober   Prober
	registry Registry
	breakers *resilience.BreakerSet

	interval  time.Duration
	timeout   time.Duration
	threshold int
	logger    *slog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithFailureThreshold overrides the offline hysteresis threshold.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor creates a monitor probing on interval with a per-probe timeout.
// Probes run through breakers so a dead node stops being probed at full
// rate once its breaker opens.
func NewMonitor(prober Prober, registry Registry, breakers *resilience.BreakerSet, interval, timeout time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		prober:    prober,
		registry:  registry,
		breakers:  breakers,
		interval:  interval,
		timeout:   timeout,
		threshold: DefaultFailureThreshold,
		logger:    slog.Default(),
		failures:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes all peers on the monitor's interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll performs one probe pass over every registered peer.
func (m *Monitor) ProbeAll(ctx context.Context) {
	peers, err := m.registry.ListPeers(ctx)
	if err != nil {
		m.logger.Error("health probe pass failed to list peers", "error", err)
		return
	}

	for _, node := range peers {
		m.probeNode(ctx, node)
	}
}

func (m *Monitor) probeNode(ctx context.Context, node record.DatabaseNode) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.breakers.Do(node.NodeID, func() error {
		return m.prober.Ping(probeCtx, node)
	})

	if err != nil {
		m.recordFailure(ctx, node, err)
		return
	}
	m.recordSuccess(ctx, node)
}

func (m *Monitor) recordFailure(ctx context.Context, node record.DatabaseNode, probeErr error) {
	m.mu.Lock()
	m.failures[node.NodeID]++
	count := m.failures[node.NodeID]
	m.mu.Unlock()

	m.logger.Debug("node probe failed",
		"node_id", node.NodeID,
		"consecutive_failures", count,
		"error", probeErr,
	)

	// Hysteresis: only the threshold-crossing failure writes the flag.
	if count == m.threshold && node.IsOnline {
		if err := m.registry.SetNodeOnline(ctx, node.NodeID, false); err != nil {
			m.logger.Error("failed to mark node offline", "node_id", node.NodeID, "error", err)
			return
		}
		m.logger.Warn("node marked offline",
			"node_id", node.NodeID,
			"consecutive_failures", count,
		)
	}
}

func (m *Monitor) recordSuccess(ctx context.Context, node record.DatabaseNode) {
	m.mu.Lock()
	hadFailures := m.failures[node.NodeID] > 0
	m.failures[node.NodeID] = 0
	m.mu.Unlock()

	// One success flips an offline node back immediately.
	if !node.IsOnline {
		if err := m.registry.SetNodeOnline(ctx, node.NodeID, true); err != nil {
			m.logger.Error("failed to mark node online", "node_id", node.NodeID, "error", err)
			return
		}
		m.logger.Info("node back online", "node_id", node.NodeID)
	} else if hadFailures {
		m.logger.Debug("node probe recovered", "node_id", node.NodeID)
	}
}
