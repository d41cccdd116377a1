package models

import (
	"context"
	"time"
)

// StepInput is the resolved input handed to a step handler: the original
// workflow payload plus the outputs of the upstream steps this step depends on.
type StepInput struct {
	WorkflowID    string
	TransactionID string
	Payload       any
	Data          map[string]any // upstream step name -> recorded output
}

// CompensateInput is handed to a compensate handler when a step is undone.
type CompensateInput struct {
	WorkflowID      string
	TransactionID   string
	Payload         any
	CompensateInput any // the value the invoke handler recorded for compensation
}

// StepHandler performs the step's work. For async steps the returned response
// is ignored; completion arrives later through the orchestrator.
type StepHandler func(ctx context.Context, input StepInput) (*StepResponse, error)

// CompensateHandler undoes a previously successful step.
type CompensateHandler func(ctx context.Context, input CompensateInput) error

// StepDefinition describes a unit of work within a workflow.
type StepDefinition struct {
	Name string `validate:"required,min=1"`

	// Async steps return from Invoke without a final result; the step stays
	// in waiting state until an external response is injected.
	Async bool

	// MaxRetries re-invokes the handler on failure up to this count before
	// the failure becomes terminal for the step.
	MaxRetries int

	// Timeout bounds a single handler invocation. Zero means no timeout.
	Timeout time.Duration

	// SkipOnFailure marks the step non-critical: a terminal failure marks it
	// (and its dependents) skipped instead of failing the workflow.
	SkipOnFailure bool

	Invoke StepHandler

	// Compensate is optional; steps without one are not undone.
	Compensate CompensateHandler
}

// HasCompensation reports whether the step can be undone.
func (s *StepDefinition) HasCompensation() bool {
	return s.Compensate != nil
}
