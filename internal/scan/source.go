// Package scan reads changed records out of peer node stores. The scanner
// walks each peer's tables from the last checkpoint cursor forward,
// returning batches for the engine to detect conflicts against and apply.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/quilldb/peersync/internal/record"
	"github.com/quilldb/peersync/internal/store"
)

// Source is a readable view of one peer node's data. The reference
// deployment reads peer SQLite files directly; a networked deployment would
// implement the same interface over an RPC client.
type Source interface {
	// ListChangedRecords returns records in table with updated_at strictly
	// greater than sinceCursor, oldest first, at most limit rows.
	ListChangedRecords(ctx context.Context, table, sinceCursor string, limit int) ([]record.StoredRecord, error)

	// Ping verifies the source is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// ConnectivityError marks a failure to reach a node. The scanner returns it
// for unreachable sources; callers must treat it as transient and must not
// flip the registry online flag (that is the health monitor's job).
type ConnectivityError struct {
	NodeID string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("node %s unreachable: %v", e.NodeID, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err wraps a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// StoreSource reads a peer's file-backed SQLite store.
type StoreSource struct {
	s *store.Store
}

// OpenStoreSource opens the peer store at location. A missing file is a
// connectivity failure, not a reason to create an empty database.
func OpenStoreSource(nodeID, location string) (*StoreSource, error) {
	if _, err := os.Stat(location); err != nil {
		return nil, &ConnectivityError{NodeID: nodeID, Err: err}
	}
	s, err := store.Open(location)
	if err != nil {
		return nil, &ConnectivityError{NodeID: nodeID, Err: err}
	}
	return &StoreSource{s: s}, nil
}

func (src *StoreSource) ListChangedRecords(ctx context.Context, table, sinceCursor string, limit int) ([]record.StoredRecord, error) {
	return src.s.ListChangedRecords(ctx, table, sinceCursor, limit)
}

func (src *StoreSource) Ping(ctx context.Context) error {
	return src.s.Ping(ctx)
}

func (src *StoreSource) Close() error {
	return src.s.Close()
}
