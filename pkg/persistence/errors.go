package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates no execution exists for the given
	// identifier, or the record is soft deleted.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	// The caller's context stays at its last persisted state and the
	// operation is safe to retry.
	ErrStoreUnavailable = errors.New("execution store unavailable")
)

// ExecutionError wraps store errors with the operation and execution identity.
type ExecutionError struct {
	Op            string
	WorkflowID    string
	TransactionID string
	Err           error
}

func (e *ExecutionError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("%s failed for execution %s/%s: %v", e.Op, e.WorkflowID, e.TransactionID, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a store error carrying the execution identity.
func NewExecutionError(op, workflowID, transactionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, WorkflowID: workflowID, TransactionID: transactionID, Err: err}
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsStoreUnavailable checks if an error indicates an unreachable store.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
