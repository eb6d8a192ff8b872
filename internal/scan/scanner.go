package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quilldb/peersync/internal/record"
)

// OpenFunc opens a Source for a node. Injectable for tests.
type OpenFunc func(nodeID, location string) (Source, error)

// Scanner reads change batches from peer nodes, caching one open Source per
// node between cycles.
type Scanner struct {
	mu      sync.Mutex
	sources map[string]Source

	open      OpenFunc
	batchSize int
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithOpenFunc replaces how peer sources are opened. Tests inject in-memory
// sources this way.
func WithOpenFunc(open OpenFunc) Option {
	return func(sc *Scanner) { sc.open = open }
}

// WithLogger sets the scanner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *Scanner) { sc.logger = logger }
}

// NewScanner creates a scanner returning at most batchSize records per scan.
func NewScanner(batchSize int, opts ...Option) *Scanner {
	sc := &Scanner{
		sources:   make(map[string]Source),
		batchSize: batchSize,
		logger:    slog.Default(),
		open: func(nodeID, location string) (Source, error) {
			return OpenStoreSource(nodeID, location)
		},
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// ScanChanges returns the next batch of records changed on node's table
// since the checkpoint cursor. The cursor comparison is strictly greater, so
// a record is scanned at most once per change. Connectivity failures come
// back as *ConnectivityError; the caller decides what to do with the node.
func (sc *Scanner) ScanChanges(ctx context.Context, node record.DatabaseNode, table string, cp record.SyncCheckpoint) ([]record.StoredRecord, error) {
	src, err := sc.source(node)
	if err != nil {
		return nil, err
	}

	records, err := src.ListChangedRecords(ctx, table, cp.Cursor, sc.batchSize)
	if err != nil {
		// A source that stops answering mid-scan is a connectivity failure;
		// drop it so the next scan reopens from scratch.
		sc.Invalidate(node.NodeID)
		return nil, &ConnectivityError{NodeID: node.NodeID, Err: err}
	}

	sc.logger.Debug("scanned node changes",
		"node_id", node.NodeID,
		"table", table,
		"cursor", cp.Cursor,
		"count", len(records),
	)
	return records, nil
}

// Ping probes a node's reachability through its cached source.
func (sc *Scanner) Ping(ctx context.Context, node record.DatabaseNode) error {
	src, err := sc.source(node)
	if err != nil {
		return err
	}
	if err := src.Ping(ctx); err != nil {
		sc.Invalidate(node.NodeID)
		return &ConnectivityError{NodeID: node.NodeID, Err: err}
	}
	return nil
}

// Invalidate drops a node's cached source, closing it.
func (sc *Scanner) Invalidate(nodeID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if src, ok := sc.sources[nodeID]; ok {
		src.Close()
		delete(sc.sources, nodeID)
	}
}

// Close releases every cached source.
func (sc *Scanner) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var firstErr error
	for id, src := range sc.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close source %s: %w", id, err)
		}
		delete(sc.sources, id)
	}
	return firstErr
}

func (sc *Scanner) source(node record.DatabaseNode) (Source, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if src, ok := sc.sources[node.NodeID]; ok {
		return src, nil
	}
	src, err := sc.open(node.NodeID, node.Location)
	if err != nil {
		return nil, err
	}
	sc.sources[node.NodeID] = src
	return src, nil
}
