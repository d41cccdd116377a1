package workflow

import (
	"errors"
	"fmt"
)

// Build-time errors, raised while composing a definition.
var (
	// ErrDuplicateStepName indicates a step name reused within one workflow.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrUnknownStep indicates a reference to a step that does not exist in
	// the workflow.
	ErrUnknownStep = errors.New("unknown step")

	// ErrCyclicDependency indicates the step wiring forms a cycle.
	ErrCyclicDependency = errors.New("cyclic step dependency")
)

// Run-time errors, raised by the orchestrator.
var (
	// ErrTransactionAlreadyExists indicates a context already exists for the
	// (workflow, transaction) pair.
	ErrTransactionAlreadyExists = errors.New("transaction already exists")

	// ErrTransactionNotFound indicates no context exists for the pair.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStepNotWaiting indicates an async response for a step that is not
	// currently waiting.
	ErrStepNotWaiting = errors.New("step is not waiting for a response")

	// ErrInvalidPayload indicates the input payload does not conform to the
	// workflow's input schema.
	ErrInvalidPayload = errors.New("invalid workflow input payload")
)

// StepHandlerError wraps the underlying error of a failed step handler,
// keeping the step name attached while the failure drives compensation.
type StepHandlerError struct {
	StepName string
	Err      error
}

func (e *StepHandlerError) Error() string {
	return fmt.Sprintf("step %s handler failed: %v", e.StepName, e.Err)
}

func (e *StepHandlerError) Unwrap() error {
	return e.Err
}
