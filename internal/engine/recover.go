package engine

import (
	"context"
)

// Recover runs the recovery controller. Valid only from Error: verify the
// store's structure (repairing if needed), park operations that are out of
// retries, and reset the injected breakers, then return to Idle.
//
// If any step fails the engine stays in Error and recovery is not retried
// automatically; an operator must intervene. This avoids an infinite
// fail-recover loop against a store that cannot be repaired.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateError {
		e.mu.Unlock()
		return nil
	}
	e.state = StateRecovering
	e.mu.Unlock()
	e.setState(ctx, StateRecovering)
	e.logger.Info("recovery started")

	if err := e.store.VerifyIntegrity(ctx); err != nil {
		e.logger.Warn("store integrity check failed, repairing", "error", err)
		if err := e.store.Repair(ctx); err != nil {
			e.setState(ctx, StateError)
			return NewIntegrityError("repair store", err)
		}
	}

	parked, err := e.store.PurgeExhausted(ctx, e.params.MaxRetries)
	if err != nil {
		e.setState(ctx, StateError)
		return NewIntegrityError("purge exhausted operations", err)
	}
	if parked > 0 {
		e.logger.Info("exhausted operations parked", "count", parked)
	}

	e.breakers.ResetAll()

	e.setState(ctx, StateIdle)
	e.logger.Info("recovery finished")
	return nil
}
