package workflow

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mercato/mercato/pkg/events"
	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/otelhelper"
)

// revert undoes completed work after a terminal step failure: remaining
// unstarted steps are skipped, then every successful step with a compensate
// handler is undone in reverse dependency order. Progress is persisted per
// compensated step, so a sweep interrupted by a crash resumes where it
// stopped. A failing compensate handler is logged and flagged but does not
// abort the sweep. With nothing to compensate the execution fails directly.
func (o *Orchestrator) revert(ctx context.Context, def *models.WorkflowDefinition, trx *models.TransactionContext) (*models.TransactionContext, error) {
	if o.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, o.tracer, "workflow.revert",
			attribute.String(otelhelper.WorkflowIDKey, trx.WorkflowID),
			attribute.String(otelhelper.TransactionIDKey, trx.TransactionID),
		)
		defer span.End()
	}

	for _, stage := range def.Stages {
		for _, name := range stage {
			if trx.Step(name).Status == models.StepStatusNotStarted {
				trx.MarkStepSkipped(name)
			}
		}
	}

	err := o.store.SaveExecution(ctx, trx)
	if err != nil {
		return trx, err
	}

	sweep := o.compensationSweep(def, trx)

	alreadyCompensated := 0

	for _, state := range trx.StepStates {
		if state.Status == models.StepStatusCompensated {
			alreadyCompensated++
		}
	}

	if len(sweep) == 0 && alreadyCompensated == 0 {
		trx.SetState(models.TransactionStateFailed)

		err = o.store.SaveExecution(ctx, trx)
		if err != nil {
			return trx, err
		}

		o.publish(ctx, events.ExecutionFailed{
			BaseEvent:   events.ForTransaction(uuid.New().String(), events.ExecutionFailedEvent, trx),
			ExecutionID: trx.ID,
			Error:       o.firstStepError(trx),
		})

		return trx, nil
	}

	if trx.State != models.TransactionStateReverting {
		trx.SetState(models.TransactionStateReverting)

		err = o.store.SaveExecution(ctx, trx)
		if err != nil {
			return trx, err
		}
	}

	compensated := alreadyCompensated

	for _, name := range sweep {
		step, _ := def.StepByName(name)
		state := trx.Step(name)

		input := models.CompensateInput{
			WorkflowID:      trx.WorkflowID,
			TransactionID:   trx.TransactionID,
			Payload:         trx.Payload,
			CompensateInput: state.CompensateInput,
		}

		err = compensateStep(ctx, step, input)
		if err != nil {
			o.logger.Error("Step compensation failed, continuing sweep",
				"workflow_id", trx.WorkflowID, "transaction_id", trx.TransactionID,
				"step_id", name, "error", err)

			trx.MarkStepCompensationFailed(name, err)
		} else {
			trx.MarkStepCompensated(name)
			compensated++

			o.publish(ctx, events.StepCompensated{
				BaseEvent:   events.ForTransaction(uuid.New().String(), events.StepCompensatedEvent, trx),
				ExecutionID: trx.ID,
				StepID:      name,
			})
		}

		err = o.store.SaveExecution(ctx, trx)
		if err != nil {
			return trx, err
		}
	}

	trx.SetState(models.TransactionStateReverted)

	err = o.store.SaveExecution(ctx, trx)
	if err != nil {
		return trx, err
	}

	o.logger.Info("Workflow execution reverted",
		"workflow_id", trx.WorkflowID, "transaction_id", trx.TransactionID,
		"compensated_steps", compensated)

	o.publish(ctx, events.ExecutionReverted{
		BaseEvent:        events.ForTransaction(uuid.New().String(), events.ExecutionRevertedEvent, trx),
		ExecutionID:      trx.ID,
		CompensatedSteps: compensated,
	})

	return trx, nil
}

// compensationSweep lists the steps still needing compensation in reverse
// dependency order: stages backwards, declaration order reversed within a
// stage. Steps without a compensate handler are never undone.
func (o *Orchestrator) compensationSweep(def *models.WorkflowDefinition, trx *models.TransactionContext) []string {
	var sweep []string

	for i := len(def.Stages) - 1; i >= 0; i-- {
		stage := def.Stages[i]

		for j := len(stage) - 1; j >= 0; j-- {
			name := stage[j]

			step, ok := def.StepByName(name)
			if !ok || !step.HasCompensation() {
				continue
			}

			if trx.Step(name).Status == models.StepStatusSuccess {
				sweep = append(sweep, name)
			}
		}
	}

	return sweep
}

func (o *Orchestrator) firstStepError(trx *models.TransactionContext) string {
	for _, state := range trx.StepStates {
		if state.Status == models.StepStatusFailed && state.Error != "" {
			return state.Error
		}
	}

	return ""
}

// compensateStep runs the compensate handler under the step's timeout.
func compensateStep(ctx context.Context, step *models.StepDefinition, input models.CompensateInput) error {
	if step.Timeout <= 0 {
		return step.Compensate(ctx, input)
	}

	compensateCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- step.Compensate(compensateCtx, input)
	}()

	select {
	case err := <-done:
		return err
	case <-compensateCtx.Done():
		return compensateCtx.Err()
	}
}
