// Package events defines the lifecycle notifications published while the
// engine drives workflow executions.
package events

import (
	"time"

	"github.com/mercato/mercato/pkg/models"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "mercato.workflow.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "workflow.execution.started"
	ExecutionCompletedEvent EventType = "workflow.execution.completed"
	ExecutionFailedEvent    EventType = "workflow.execution.failed"
	ExecutionRevertedEvent  EventType = "workflow.execution.reverted"

	StepCompletedEvent   EventType = "workflow.step.completed"
	StepFailedEvent      EventType = "workflow.step.failed"
	StepWaitingEvent     EventType = "workflow.step.waiting"
	StepCompensatedEvent EventType = "workflow.step.compensated"
)

type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	WorkflowID    string    `json:"workflow_id"`
	TransactionID string    `json:"transaction_id"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Payload     any    `json:"payload,omitempty"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionReverted struct {
	BaseEvent

	ExecutionID      string `json:"execution_id"`
	CompensatedSteps int    `json:"compensated_steps"`
}

func (e ExecutionReverted) GetType() EventType { return ExecutionRevertedEvent }

type StepCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Output      any    `json:"output,omitempty"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Error       string `json:"error"`
	Attempts    int    `json:"attempts"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepWaiting struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

func (e StepWaiting) GetType() EventType { return StepWaitingEvent }

type StepCompensated struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

func (e StepCompensated) GetType() EventType { return StepCompensatedEvent }

// ForTransaction fills the shared event envelope.
func ForTransaction(id string, eventType EventType, trx *models.TransactionContext) BaseEvent {
	return BaseEvent{
		ID:            id,
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		WorkflowID:    trx.WorkflowID,
		TransactionID: trx.TransactionID,
	}
}
