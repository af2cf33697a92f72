package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the order engine. State-machine violations and
// authorization failures are returned to the caller and never retried;
// concurrency conflicts mean the current stored state is authoritative.
var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotAuthorized          = errors.New("verifier not authorized for this order")
	ErrConcurrencyConflict    = errors.New("order was modified concurrently")
	ErrNoActiveDestination    = errors.New("no active destination account")
	ErrNoEligibleVerifier     = errors.New("no eligible verifier")
	ErrOrderNotFound          = errors.New("order not found")
	ErrVerifierNotFound       = errors.New("verifier not found")
)

// ExternalServiceError wraps a failure from the panel or messaging layer.
// Retryable failures (network, timeout, 5xx) may be retried a bounded number
// of times; fatal ones (validation) are surfaced immediately.
type ExternalServiceError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("external service error (%s, %s): %v", e.Op, kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// RollbackFailure records a compensating action that did not complete. It is
// always escalated for manual reconciliation and never retried automatically:
// acting on an external resource twice can have undefined effects.
type RollbackFailure struct {
	OrderID    string
	ResourceID string
	Err        error
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("rollback failed for order %s resource %s: %v", e.OrderID, e.ResourceID, e.Err)
}

func (e *RollbackFailure) Unwrap() error { return e.Err }
