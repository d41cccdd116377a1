package models

import (
	"encoding/json"
	"fmt"
)

// Discriminators for recorded step values. Downstream consumers rely on these
// to tell a wrapped step response apart from a raw recorded value.
const (
	ValueTypeStepResponse = "WorkflowStepResponse"
	ValueTypeWorkflowData = "WorkflowWorkflowData"
)

// StepResponse is what a step handler returns: the output visible to
// downstream steps and the data needed to undo the step. The two may differ.
type StepResponse struct {
	Output          any
	CompensateInput any
}

// NewStepResponse builds a response whose compensate input equals the output.
func NewStepResponse(output any) *StepResponse {
	return &StepResponse{Output: output, CompensateInput: output}
}

// NewStepResponseWithCompensateInput builds a response with a distinct
// compensation value.
func NewStepResponseWithCompensateInput(output, compensateInput any) *StepResponse {
	return &StepResponse{Output: output, CompensateInput: compensateInput}
}

type stepResponseJSON struct {
	Type            string `json:"__type"`
	Output          any    `json:"output"`
	CompensateInput any    `json:"compensateInput"`
}

func (r StepResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepResponseJSON{
		Type:            ValueTypeStepResponse,
		Output:          r.Output,
		CompensateInput: r.CompensateInput,
	})
}

func (r *StepResponse) UnmarshalJSON(data []byte) error {
	var raw stepResponseJSON

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	if raw.Type != ValueTypeStepResponse {
		return fmt.Errorf("unexpected value type %q, want %q", raw.Type, ValueTypeStepResponse)
	}

	r.Output = raw.Output
	r.CompensateInput = raw.CompensateInput

	return nil
}

// WorkflowData wraps a value recorded during the invoke phase of a
// synchronous step, so readers can distinguish it from a response injected
// for an async step.
type WorkflowData struct {
	Output any
}

type workflowDataJSON struct {
	Type   string `json:"__type"`
	Output any    `json:"output"`
}

func (d WorkflowData) MarshalJSON() ([]byte, error) {
	return json.Marshal(workflowDataJSON{Type: ValueTypeWorkflowData, Output: d.Output})
}

func (d *WorkflowData) UnmarshalJSON(data []byte) error {
	var raw workflowDataJSON

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	if raw.Type != ValueTypeWorkflowData {
		return fmt.Errorf("unexpected value type %q, want %q", raw.Type, ValueTypeWorkflowData)
	}

	d.Output = raw.Output

	return nil
}
