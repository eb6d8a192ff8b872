package engine

import (
	"errors"
	"fmt"
)

// SyncError represents a categorized failure inside the sync engine.
//
// Categories map to distinct handling policies:
//   - Validation: surfaced synchronously to the Enqueue caller
//   - Connectivity: node-scoped, skip the node for this cycle
//   - Integrity: escalates the engine to Error/Recovering
//   - Exhausted: operation permanently parked, logged for audit
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// NodeID identifies the affected node (for connectivity errors).
	NodeID string

	// RecordID identifies the affected operation (for validation and
	// exhaustion errors).
	RecordID string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeValidation indicates a malformed operation payload, rejected
	// before enqueue.
	ErrCodeValidation SyncErrorCode = "VALIDATION"

	// ErrCodeConnectivity indicates an unreachable node or timed-out call.
	ErrCodeConnectivity SyncErrorCode = "CONNECTIVITY"

	// ErrCodeIntegrity indicates store or checkpoint corruption.
	ErrCodeIntegrity SyncErrorCode = "INTEGRITY"

	// ErrCodeExhausted indicates an operation whose retries ran out.
	ErrCodeExhausted SyncErrorCode = "EXHAUSTED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	case e.RecordID != "":
		return fmt.Sprintf("%s: %s (record=%s)", e.Code, e.Message, e.RecordID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeValidation
}

// IsConnectivityError reports whether err is a connectivity error.
func IsConnectivityError(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeConnectivity
}

// IsIntegrityError reports whether err is an integrity error.
func IsIntegrityError(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeIntegrity
}

// IsExhaustedError reports whether err is a retry exhaustion error.
func IsExhaustedError(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeExhausted
}

// NewValidationError creates a SyncError for a rejected payload.
func NewValidationError(recordID, message string) *SyncError {
	return &SyncError{
		Code:     ErrCodeValidation,
		Message:  message,
		RecordID: recordID,
	}
}

// NewConnectivityError creates a SyncError for an unreachable node.
func NewConnectivityError(nodeID string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeConnectivity,
		Message: "node unreachable",
		NodeID:  nodeID,
		Err:     cause,
	}
}

// NewIntegrityError creates a SyncError for store corruption.
func NewIntegrityError(message string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeIntegrity,
		Message: message,
		Err:     cause,
	}
}

// NewExhaustedError creates a SyncError for an operation out of retries.
func NewExhaustedError(recordID string, maxRetries int) *SyncError {
	return &SyncError{
		Code:     ErrCodeExhausted,
		Message:  fmt.Sprintf("operation exhausted %d retries", maxRetries),
		RecordID: recordID,
	}
}
