package models

import (
	"time"
)

// TransactionState is the overall lifecycle state of one workflow execution.
type TransactionState string

const (
	TransactionStateInvoking  TransactionState = "invoking"
	TransactionStateWaiting   TransactionState = "waiting"
	TransactionStateDone      TransactionState = "done"
	TransactionStateFailed    TransactionState = "failed"
	TransactionStateReverting TransactionState = "reverting"
	TransactionStateReverted  TransactionState = "reverted"
)

// IsTerminal reports whether the execution reached a final state.
func (s TransactionState) IsTerminal() bool {
	return s == TransactionStateDone || s == TransactionStateFailed || s == TransactionStateReverted
}

// StepStatus is the per-step execution status inside a transaction.
type StepStatus string

const (
	StepStatusNotStarted  StepStatus = "not_started"
	StepStatusSuccess     StepStatus = "success"
	StepStatusFailed      StepStatus = "failed"
	StepStatusSkipped     StepStatus = "skipped"
	StepStatusWaiting     StepStatus = "waiting"
	StepStatusCompensated StepStatus = "compensated"
)

// StepState records what happened to a single step within a transaction.
type StepState struct {
	Status          StepStatus `json:"status"`
	Async           bool       `json:"async,omitempty"`
	Output          any        `json:"output,omitempty"`
	CompensateInput any        `json:"compensate_input,omitempty"`
	Error           string     `json:"error,omitempty"`
	Attempts        int        `json:"attempts,omitempty"`

	// CompensationFailed marks a step whose compensate handler errored. The
	// revert sweep continues past it; the flag keeps the failure visible.
	CompensationFailed bool   `json:"compensation_failed,omitempty"`
	CompensationError  string `json:"compensation_error,omitempty"`
}

// ExecutionFlags are derived booleans computed from the step states, reported
// on the status API.
type ExecutionFlags struct {
	HasAsyncSteps    bool `json:"hasAsyncSteps"`
	HasFailedSteps   bool `json:"hasFailedSteps"`
	HasSkippedSteps  bool `json:"hasSkippedSteps"`
	HasWaitingSteps  bool `json:"hasWaitingSteps"`
	HasRevertedSteps bool `json:"hasRevertedSteps"`
}

// TransactionContext is the durable state of one workflow execution. It is
// mutated exclusively by the orchestrator and persisted after every state
// transition.
type TransactionContext struct {
	ID            string                `json:"id"`
	WorkflowID    string                `json:"workflow_id"`
	TransactionID string                `json:"transaction_id"`
	State         TransactionState      `json:"state"`
	Payload       any                   `json:"payload"`
	StepStates    map[string]*StepState `json:"step_states"`
	RetentionTime time.Duration         `json:"retention_time"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	DeletedAt     *time.Time            `json:"deleted_at,omitempty"`
}

// NewTransactionContext creates the context for a fresh execution with every
// step of the definition in not_started state.
func NewTransactionContext(id string, def *WorkflowDefinition, transactionID string, payload any) *TransactionContext {
	steps := make(map[string]*StepState, len(def.Steps))
	for name, ref := range def.Steps {
		steps[name] = &StepState{Status: StepStatusNotStarted, Async: ref.Step.Async}
	}

	now := time.Now().UTC()

	return &TransactionContext{
		ID:            id,
		WorkflowID:    def.Name,
		TransactionID: transactionID,
		State:         TransactionStateInvoking,
		Payload:       payload,
		StepStates:    steps,
		RetentionTime: def.RetentionTime,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Step returns the state entry for a step, creating it if the context
// predates the step's addition to the definition.
func (t *TransactionContext) Step(name string) *StepState {
	state, ok := t.StepStates[name]
	if !ok {
		state = &StepState{Status: StepStatusNotStarted}
		t.StepStates[name] = state
	}

	return state
}

func (t *TransactionContext) touch() {
	t.UpdatedAt = time.Now().UTC()
}

// MarkStepSuccess records the step response and moves the step to success.
func (t *TransactionContext) MarkStepSuccess(name string, response *StepResponse) {
	state := t.Step(name)
	state.Status = StepStatusSuccess
	state.Error = ""

	if response != nil {
		state.Output = response.Output
		state.CompensateInput = response.CompensateInput
	}

	t.touch()
}

// MarkStepWaiting parks an async step until an external response arrives.
func (t *TransactionContext) MarkStepWaiting(name string) {
	t.Step(name).Status = StepStatusWaiting
	t.touch()
}

// MarkStepFailed records a terminal handler failure for the step.
func (t *TransactionContext) MarkStepFailed(name string, err error) {
	state := t.Step(name)
	state.Status = StepStatusFailed

	if err != nil {
		state.Error = err.Error()
	}

	t.touch()
}

// MarkStepSkipped marks a step unreachable due to an upstream skip or a
// non-critical failure.
func (t *TransactionContext) MarkStepSkipped(name string) {
	t.Step(name).Status = StepStatusSkipped
	t.touch()
}

// MarkStepCompensated records a successful undo of the step.
func (t *TransactionContext) MarkStepCompensated(name string) {
	t.Step(name).Status = StepStatusCompensated
	t.touch()
}

// MarkStepCompensationFailed records a failed undo. The step keeps its
// success status so a resumed sweep can retry it, and the failure is flagged.
func (t *TransactionContext) MarkStepCompensationFailed(name string, err error) {
	state := t.Step(name)
	state.CompensationFailed = true

	if err != nil {
		state.CompensationError = err.Error()
	}

	t.touch()
}

// SetState transitions the overall execution state.
func (t *TransactionContext) SetState(state TransactionState) {
	t.State = state
	t.touch()
}

// Flags computes the derived execution flags from the step states.
func (t *TransactionContext) Flags() ExecutionFlags {
	var flags ExecutionFlags

	for _, state := range t.StepStates {
		if state.Async {
			flags.HasAsyncSteps = true
		}

		switch state.Status {
		case StepStatusFailed:
			flags.HasFailedSteps = true
		case StepStatusSkipped:
			flags.HasSkippedSteps = true
		case StepStatusWaiting:
			flags.HasWaitingSteps = true
		case StepStatusCompensated:
			flags.HasRevertedSteps = true
		}
	}

	return flags
}

// InvokeData renders the recorded step values keyed by step name, tagged with
// the value discriminators of the original wire format: synchronous results
// are wrapped as workflow data holding a step response, async responses are
// bare step responses.
func (t *TransactionContext) InvokeData() map[string]any {
	invoke := make(map[string]any)

	for name, state := range t.StepStates {
		if state.Status != StepStatusSuccess && state.Status != StepStatusCompensated {
			continue
		}

		response := StepResponse{Output: state.Output, CompensateInput: state.CompensateInput}

		if state.Async {
			invoke[name] = response
		} else {
			invoke[name] = WorkflowData{Output: response}
		}
	}

	return invoke
}

// Expired reports whether a terminal execution has outlived its retention
// time and should be soft deleted.
func (t *TransactionContext) Expired(now time.Time) bool {
	if !t.State.IsTerminal() || t.RetentionTime <= 0 {
		return false
	}

	return now.After(t.UpdatedAt.Add(t.RetentionTime))
}
