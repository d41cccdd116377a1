// Package models defines the core domain models of the workflow execution
// engine: workflow definitions, step definitions and the durable transaction
// context of a running execution.
package models

import "time"

// StepRef is one node of a workflow definition's graph: a step plus the
// names of the upstream steps whose outputs feed its input.
type StepRef struct {
	Step      *StepDefinition
	DependsOn []string
}

// WorkflowDefinition is a named, versioned graph of steps compiled into an
// immutable staged execution plan. Definitions are built once through the
// workflow builder and registered before any execution starts.
type WorkflowDefinition struct {
	Name    string
	Version string

	// RetentionTime is how long completed execution records are kept before
	// becoming eligible for deletion.
	RetentionTime time.Duration

	// InputSchema optionally holds a JSON schema document the input payload
	// must conform to.
	InputSchema map[string]any

	// Steps indexes every step of the graph by name.
	Steps map[string]*StepRef

	// Stages is the compiled plan: stages run in order, steps within one
	// stage have no data dependency between them and may run concurrently.
	Stages [][]string
}

// StepByName resolves a step of this definition.
func (d *WorkflowDefinition) StepByName(name string) (*StepDefinition, bool) {
	ref, ok := d.Steps[name]
	if !ok {
		return nil, false
	}

	return ref.Step, true
}

// Dependencies returns the upstream step names of a step.
func (d *WorkflowDefinition) Dependencies(name string) []string {
	ref, ok := d.Steps[name]
	if !ok {
		return nil
	}

	return ref.DependsOn
}
