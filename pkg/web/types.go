// Package web provides HTTP request and response types for the execution API.
package web

import (
	"time"

	"github.com/mercato/mercato/pkg/models"
)

// RunWorkflowRequest represents the request body for starting a workflow
// execution. The transaction id is generated when omitted.
type RunWorkflowRequest struct {
	Input         any    `json:"input"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Acknowledgement confirms that an execution was accepted.
type Acknowledgement struct {
	TransactionID string `json:"transactionId"`
	WorkflowID    string `json:"workflowId"`
}

// RunWorkflowResponse is the response body for a run request.
type RunWorkflowResponse struct {
	Acknowledgement Acknowledgement `json:"acknowledgement"`
}

// StepSuccessRequest represents the request body for completing a waiting
// async step.
type StepSuccessRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	StepID        string `json:"step_id"        validate:"required"`
	Response      any    `json:"response"`
}

// StepFailureRequest represents the request body for failing a waiting async
// step.
type StepFailureRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	StepID        string `json:"step_id"        validate:"required"`
	Error         string `json:"error,omitempty"`
}

// StepAckResponse acknowledges a step success/failure report.
type StepAckResponse struct {
	Success bool `json:"success"`
}

// ContextData carries the per-step recorded values and the original run
// payload.
type ContextData struct {
	Invoke  map[string]any `json:"invoke"`
	Payload any            `json:"payload"`
}

// ExecutionContext wraps the context data of an execution.
type ExecutionContext struct {
	Data ContextData `json:"data"`
}

// WorkflowExecutionResponse is the external representation of one execution.
type WorkflowExecutionResponse struct {
	WorkflowID    string                  `json:"workflow_id"`
	TransactionID string                  `json:"transaction_id"`
	ID            string                  `json:"id"`
	State         models.TransactionState `json:"state"`
	Execution     models.ExecutionFlags   `json:"execution"`
	Context       ExecutionContext        `json:"context"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	DeletedAt     *time.Time              `json:"deleted_at"`
}

// ListExecutionsResponse is the paginated list body.
type ListExecutionsResponse struct {
	Count              int64                       `json:"count"`
	WorkflowExecutions []WorkflowExecutionResponse `json:"workflow_executions"`
}

// TransformExecutionResponse converts a stored transaction context into its
// external representation.
func TransformExecutionResponse(trx *models.TransactionContext) WorkflowExecutionResponse {
	return WorkflowExecutionResponse{
		WorkflowID:    trx.WorkflowID,
		TransactionID: trx.TransactionID,
		ID:            trx.ID,
		State:         trx.State,
		Execution:     trx.Flags(),
		Context: ExecutionContext{
			Data: ContextData{
				Invoke:  trx.InvokeData(),
				Payload: trx.Payload,
			},
		},
		CreatedAt: trx.CreatedAt,
		UpdatedAt: trx.UpdatedAt,
		DeletedAt: trx.DeletedAt,
	}
}

// TransformExecutionsResponse converts a list result page.
func TransformExecutionsResponse(count int64, executions []*models.TransactionContext) ListExecutionsResponse {
	items := make([]WorkflowExecutionResponse, 0, len(executions))
	for _, trx := range executions {
		items = append(items, TransformExecutionResponse(trx))
	}

	return ListExecutionsResponse{Count: count, WorkflowExecutions: items}
}
