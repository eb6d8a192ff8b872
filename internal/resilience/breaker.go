// Package resilience provides the failure-handling policies injected into
// the scanner, health monitor, and sync engine: per-node circuit breakers
// and bounded retry with exponential backoff.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Default breaker parameters. These are deliberately independent of the
// queue retry budget: the breaker counts consecutive failures against one
// node across cycles, while the retry budget bounds attempts for one
// operation.
const (
	DefaultMaxFailures uint32 = 5
	DefaultOpenTimeout        = 30 * time.Second
)

// BreakerSet maintains one circuit breaker per node. A breaker opens after
// a configured number of consecutive failures, rejects calls while open,
// and probes with limited half-open requests after its timeout.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	maxFailures uint32
	openTimeout time.Duration
}

// NewBreakerSet creates a breaker set. maxFailures consecutive failures open
// a node's breaker; after openTimeout it half-opens and a single success
// closes it again.
func NewBreakerSet(maxFailures uint32, openTimeout time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		maxFailures: maxFailures,
		openTimeout: openTimeout,
	}
}

// Do runs fn through the breaker for nodeID, creating the breaker on first
// use. While the breaker is open, fn is not called and ErrOpen is returned.
func (b *BreakerSet) Do(nodeID string, fn func() error) error {
	cb := b.breaker(nodeID)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the named node's breaker state. Nodes never seen report
// a closed breaker.
func (b *BreakerSet) State(nodeID string) gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[nodeID]
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Reset discards the named node's breaker so the next call starts from a
// closed state with zeroed counts. The recovery controller calls this after
// repairing the store.
func (b *BreakerSet) Reset(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.breakers, nodeID)
}

// ResetAll discards every breaker.
func (b *BreakerSet) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakers = make(map[string]*gobreaker.CircuitBreaker)
}

func (b *BreakerSet) breaker(nodeID string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[nodeID]
	if !ok {
		maxFailures := b.maxFailures
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        nodeID,
			MaxRequests: 1,
			Timeout:     b.openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		})
		b.breakers[nodeID] = cb
	}
	return cb
}

// ErrOpen is returned by Do when the node's breaker rejected the call
// without running it.
var ErrOpen = errors.New("circuit breaker open")

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
