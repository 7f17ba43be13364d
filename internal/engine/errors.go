package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while synchronizing entities.
//
// Runtime errors include:
//   - Adapter rejected: an update or upgrade call to the host failed
//   - Dead reference: the entity behind a tracking record is gone
//   - Kind mismatch: an upgrade returned the other entity kind for an id
//   - Illegal transition: a record was asked to make a move its state forbids
//
// None of these stop the engine. They are logged and, where the hub asked
// for it, handed to the ErrorReporter.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ConnectionID identifies the host connection.
	ConnectionID string

	// EntityID identifies the affected entity, if any.
	EntityID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeAdapterRejected indicates a host adapter call returned an error.
	ErrCodeAdapterRejected RuntimeErrorCode = "ADAPTER_REJECTED"

	// ErrCodeDeadReference indicates the tracked entity no longer exists.
	ErrCodeDeadReference RuntimeErrorCode = "DEAD_REFERENCE"

	// ErrCodeKindMismatch indicates an upgrade returned a different kind.
	ErrCodeKindMismatch RuntimeErrorCode = "KIND_MISMATCH"

	// ErrCodeUpgradeExhausted indicates the degradation budget ran out.
	ErrCodeUpgradeExhausted RuntimeErrorCode = "UPGRADE_EXHAUSTED"

	// ErrCodeIllegalTransition indicates a rejected record state change.
	ErrCodeIllegalTransition RuntimeErrorCode = "ILLEGAL_TRANSITION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ConnectionID != "" && e.EntityID != "" {
		msg = fmt.Sprintf("%s (connection=%s, entity=%s)", msg, e.ConnectionID, e.EntityID)
	} else if e.EntityID != "" {
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.EntityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsAdapterError returns true if the error came from a rejected adapter call.
func IsAdapterError(err error) bool {
	return hasCode(err, ErrCodeAdapterRejected)
}

// IsDeadReferenceError returns true if the error is a dead reference.
func IsDeadReferenceError(err error) bool {
	return hasCode(err, ErrCodeDeadReference)
}

// IsKindMismatchError returns true if the error is a kind mismatch.
func IsKindMismatchError(err error) bool {
	return hasCode(err, ErrCodeKindMismatch)
}

// IsIllegalTransitionError returns true if a record rejected a transition.
func IsIllegalTransitionError(err error) bool {
	return hasCode(err, ErrCodeIllegalTransition)
}

// IsUpgradeExhaustedError matches both RuntimeError with
// ErrCodeUpgradeExhausted and UpgradeExhaustedError.
func IsUpgradeExhaustedError(err error) bool {
	if hasCode(err, ErrCodeUpgradeExhausted) {
		return true
	}
	var ue *UpgradeExhaustedError
	return errors.As(err, &ue)
}

// NewAdapterError wraps an error returned by the host adapter.
func NewAdapterError(connectionID, op string, batchSize int, err error) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeAdapterRejected,
		Message:      fmt.Sprintf("%s rejected", op),
		ConnectionID: connectionID,
		Details: map[string]string{
			"op":         op,
			"batch_size": fmt.Sprintf("%d", batchSize),
		},
		Err: err,
	}
}

// NewDeadReferenceError reports a record whose entity can no longer be loaded.
func NewDeadReferenceError(connectionID, entityID string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeDeadReference,
		Message:      "tracked entity no longer exists",
		ConnectionID: connectionID,
		EntityID:     entityID,
	}
}

// NewKindMismatchError reports an upgrade result of the wrong kind.
func NewKindMismatchError(connectionID, entityID, want, got string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeKindMismatch,
		Message:      fmt.Sprintf("upgrade returned %s for %s entity", got, want),
		ConnectionID: connectionID,
		EntityID:     entityID,
		Details: map[string]string{
			"want": want,
			"got":  got,
		},
	}
}

// NewIllegalTransitionError reports a transition the record state forbids.
func NewIllegalTransitionError(entityID, from, event string, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeIllegalTransition,
		Message:  fmt.Sprintf("cannot %s from %s", event, from),
		EntityID: entityID,
		Details: map[string]string{
			"from":  from,
			"event": event,
		},
		Err: err,
	}
}
