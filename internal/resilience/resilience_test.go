package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("probe failed")

func TestBreakerSet_OpensAfterConsecutiveFailures(t *testing.T) {
	bs := NewBreakerSet(3, time.Minute)

	for i := 0; i < 3; i++ {
		err := bs.Do("node-a", func() error { return errProbe })
		require.ErrorIs(t, err, errProbe, "failure %d should pass through", i+1)
	}

	// Breaker is now open: fn must not run.
	called := false
	err := bs.Do("node-a", func() error { called = true; return nil })
	assert.True(t, IsOpen(err))
	assert.False(t, called, "fn ran through an open breaker")
}

func TestBreakerSet_DefaultParameters(t *testing.T) {
	bs := NewBreakerSet(DefaultMaxFailures, DefaultOpenTimeout)

	for i := uint32(0); i < DefaultMaxFailures-1; i++ {
		err := bs.Do("node-a", func() error { return errProbe })
		require.ErrorIs(t, err, errProbe)
	}
	// One failure short of the threshold: still closed.
	require.NoError(t, bs.Do("node-a", func() error { return nil }))

	for i := uint32(0); i < DefaultMaxFailures; i++ {
		_ = bs.Do("node-a", func() error { return errProbe })
	}
	assert.True(t, IsOpen(bs.Do("node-a", func() error { return nil })))
}

func TestBreakerSet_SuccessResetsCount(t *testing.T) {
	bs := NewBreakerSet(3, time.Minute)

	for i := 0; i < 2; i++ {
		_ = bs.Do("node-a", func() error { return errProbe })
	}
	require.NoError(t, bs.Do("node-a", func() error { return nil }))

	// Two more failures do not reach the threshold of three consecutive.
	for i := 0; i < 2; i++ {
		err := bs.Do("node-a", func() error { return errProbe })
		require.ErrorIs(t, err, errProbe)
	}
	assert.NoError(t, bs.Do("node-a", func() error { return nil }))
}

func TestBreakerSet_NodesAreIndependent(t *testing.T) {
	bs := NewBreakerSet(1, time.Minute)

	_ = bs.Do("node-a", func() error { return errProbe })
	require.True(t, IsOpen(bs.Do("node-a", func() error { return nil })))

	// node-b is unaffected.
	assert.NoError(t, bs.Do("node-b", func() error { return nil }))
}

func TestBreakerSet_ResetClosesBreaker(t *testing.T) {
	bs := NewBreakerSet(1, time.Hour)

	_ = bs.Do("node-a", func() error { return errProbe })
	require.True(t, IsOpen(bs.Do("node-a", func() error { return nil })))

	bs.Reset("node-a")
	assert.NoError(t, bs.Do("node-a", func() error { return nil }))
}

func TestRetryPolicy_SucceedsWithinBudget(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond)

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errProbe
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_ExhaustsBudget(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond, 5*time.Millisecond)

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return errProbe
	})
	require.ErrorIs(t, err, errProbe)
	assert.Equal(t, 3, attempts, "2 retries = 3 attempts")
}

func TestRetryPolicy_PermanentErrorStopsRetrying(t *testing.T) {
	p := NewRetryPolicy(5, time.Millisecond, 5*time.Millisecond)

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return Permanent(errProbe)
	})
	require.ErrorIs(t, err, errProbe)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	p := NewRetryPolicy(100, 10*time.Millisecond, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func() error {
		attempts++
		return errProbe
	})
	require.Error(t, err)
	assert.Less(t, attempts, 100, "cancellation should cut retries short")
}
