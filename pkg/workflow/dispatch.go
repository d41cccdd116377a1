package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mercato/mercato/pkg/events"
	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/otelhelper"
)

// upstreamCondition classifies whether a step's dependencies allow it to run.
type upstreamCondition int

const (
	upstreamReady upstreamCondition = iota
	upstreamPending
	upstreamUnreachable
)

type stepResult struct {
	name     string
	response *models.StepResponse
	err      error
	attempts int
}

// dispatch advances the execution stage by stage until it settles: done when
// every reachable step succeeded, waiting when an async step still needs its
// response, or reverted/failed through the compensation path when a step
// fails terminally. Each per-step transition is persisted before the next
// dispatch decision.
func (o *Orchestrator) dispatch(ctx context.Context, def *models.WorkflowDefinition, trx *models.TransactionContext) (*models.TransactionContext, error) {
	// A resumed context may predate steps later added to the definition;
	// materialize their entries before any concurrent reads.
	for name := range def.Steps {
		trx.Step(name)
	}

	pending := false

	for _, stage := range def.Stages {
		var ready []string

		for _, name := range stage {
			state := trx.Step(name)

			switch state.Status {
			case models.StepStatusSuccess, models.StepStatusSkipped, models.StepStatusCompensated:
				continue
			case models.StepStatusWaiting:
				pending = true
			case models.StepStatusFailed:
				// Persisted failure that never went through compensation,
				// e.g. a crash between the two transitions.
				return o.revert(ctx, def, trx)
			case models.StepStatusNotStarted:
				switch o.upstreamCondition(def, trx, name) {
				case upstreamReady:
					ready = append(ready, name)
				case upstreamUnreachable:
					trx.MarkStepSkipped(name)

					err := o.store.SaveExecution(ctx, trx)
					if err != nil {
						return trx, err
					}
				case upstreamPending:
					pending = true
				}
			}
		}

		if len(ready) == 0 {
			continue
		}

		results := o.runStage(ctx, def, trx, ready)

		failed := false

		for _, result := range results {
			err := o.applyStepResult(ctx, def, trx, result, &pending, &failed)
			if err != nil {
				return trx, err
			}
		}

		// Every result of the stage is recorded before compensation starts,
		// so concurrently completed siblings of a failed step are undone too.
		if failed {
			return o.revert(ctx, def, trx)
		}
	}

	if pending {
		if trx.State != models.TransactionStateWaiting {
			trx.SetState(models.TransactionStateWaiting)

			err := o.store.SaveExecution(ctx, trx)
			if err != nil {
				return trx, err
			}
		}

		return trx, nil
	}

	trx.SetState(models.TransactionStateDone)

	err := o.store.SaveExecution(ctx, trx)
	if err != nil {
		return trx, err
	}

	o.logger.Info("Workflow execution completed",
		"workflow_id", trx.WorkflowID, "transaction_id", trx.TransactionID)

	o.publish(ctx, events.ExecutionCompleted{
		BaseEvent:   events.ForTransaction(uuid.New().String(), events.ExecutionCompletedEvent, trx),
		ExecutionID: trx.ID,
		Duration:    time.Since(trx.CreatedAt),
	})

	return trx, nil
}

// upstreamCondition inspects a step's dependencies: all success means ready,
// any skipped or failed dependency makes the branch unreachable, anything
// still in flight keeps it pending.
func (o *Orchestrator) upstreamCondition(def *models.WorkflowDefinition, trx *models.TransactionContext, name string) upstreamCondition {
	for _, dep := range def.Dependencies(name) {
		switch trx.Step(dep).Status {
		case models.StepStatusSuccess:
		case models.StepStatusSkipped, models.StepStatusFailed, models.StepStatusCompensated:
			return upstreamUnreachable
		default:
			return upstreamPending
		}
	}

	return upstreamReady
}

// runStage invokes the ready steps of one stage, concurrently when there is
// more than one. Handlers only read the shared context; results are applied
// sequentially afterwards.
func (o *Orchestrator) runStage(ctx context.Context, def *models.WorkflowDefinition, trx *models.TransactionContext, ready []string) []stepResult {
	results := make([]stepResult, len(ready))

	if len(ready) == 1 {
		results[0] = o.runStep(ctx, def, trx, ready[0])

		return results
	}

	var wg sync.WaitGroup

	for i, name := range ready {
		wg.Add(1)

		go func(i int, name string) {
			defer wg.Done()

			results[i] = o.runStep(ctx, def, trx, name)
		}(i, name)
	}

	wg.Wait()

	return results
}

// applyStepResult records one step outcome and persists the transition. A
// terminal failure only raises the failed flag; the caller starts
// compensation after the whole stage is applied.
func (o *Orchestrator) applyStepResult(ctx context.Context, def *models.WorkflowDefinition, trx *models.TransactionContext, result stepResult, pending, failed *bool) error {
	step, _ := def.StepByName(result.name)

	switch {
	case result.err != nil && step.SkipOnFailure:
		o.logger.Warn("Non-critical step failed, skipping",
			"workflow_id", trx.WorkflowID, "transaction_id", trx.TransactionID,
			"step_id", result.name, "attempts", result.attempts, "error", result.err)

		trx.MarkStepSkipped(result.name)

		err := o.store.SaveExecution(ctx, trx)
		if err != nil {
			return err
		}

	case result.err != nil:
		handlerErr := &StepHandlerError{StepName: result.name, Err: result.err}

		o.logger.Error("Step failed, starting compensation",
			"workflow_id", trx.WorkflowID, "transaction_id", trx.TransactionID,
			"step_id", result.name, "attempts", result.attempts, "error", result.err)

		trx.MarkStepFailed(result.name, handlerErr)
		trx.Step(result.name).Attempts = result.attempts
		*failed = true

		err := o.store.SaveExecution(ctx, trx)
		if err != nil {
			return err
		}

		o.publish(ctx, events.StepFailed{
			BaseEvent:   events.ForTransaction(uuid.New().String(), events.StepFailedEvent, trx),
			ExecutionID: trx.ID,
			StepID:      result.name,
			Error:       handlerErr.Error(),
			Attempts:    result.attempts,
		})

	case step.Async:
		trx.MarkStepWaiting(result.name)
		*pending = true

		err := o.store.SaveExecution(ctx, trx)
		if err != nil {
			return err
		}

		o.publish(ctx, events.StepWaiting{
			BaseEvent:   events.ForTransaction(uuid.New().String(), events.StepWaitingEvent, trx),
			ExecutionID: trx.ID,
			StepID:      result.name,
		})

	default:
		trx.MarkStepSuccess(result.name, result.response)
		trx.Step(result.name).Attempts = result.attempts

		err := o.store.SaveExecution(ctx, trx)
		if err != nil {
			return err
		}

		o.publish(ctx, events.StepCompleted{
			BaseEvent:   events.ForTransaction(uuid.New().String(), events.StepCompletedEvent, trx),
			ExecutionID: trx.ID,
			StepID:      result.name,
			Output:      trx.Step(result.name).Output,
		})
	}

	return nil
}

// runStep resolves the step's input and invokes its handler under the step's
// retry and timeout policy.
func (o *Orchestrator) runStep(ctx context.Context, def *models.WorkflowDefinition, trx *models.TransactionContext, name string) stepResult {
	step, _ := def.StepByName(name)

	var span trace.Span
	if o.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, o.tracer, "workflow.step.invoke",
			attribute.String(otelhelper.WorkflowIDKey, trx.WorkflowID),
			attribute.String(otelhelper.TransactionIDKey, trx.TransactionID),
			attribute.String(otelhelper.StepIDKey, name),
		)
	}

	input := models.StepInput{
		WorkflowID:    trx.WorkflowID,
		TransactionID: trx.TransactionID,
		Payload:       trx.Payload,
		Data:          make(map[string]any),
	}

	for _, dep := range def.Dependencies(name) {
		input.Data[dep] = trx.Step(dep).Output
	}

	result := stepResult{name: name}

	operation := func() (*models.StepResponse, error) {
		result.attempts++

		return invokeStep(ctx, step, input)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newStepBackOff(), uint64(step.MaxRetries)), ctx)

	result.response, result.err = backoff.RetryWithData(operation, policy)

	if span != nil {
		if result.err != nil {
			otelhelper.SetError(span, result.err,
				attribute.String(otelhelper.StepIDKey, name))
		}

		span.End()
	}

	return result
}

func newStepBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	return b
}

// invokeStep runs the handler, enforcing the configured timeout even when
// the handler ignores context cancellation.
func invokeStep(ctx context.Context, step *models.StepDefinition, input models.StepInput) (*models.StepResponse, error) {
	if step.Timeout <= 0 {
		return step.Invoke(ctx, input)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type invokeResult struct {
		response *models.StepResponse
		err      error
	}

	done := make(chan invokeResult, 1)

	go func() {
		response, err := step.Invoke(invokeCtx, input)
		done <- invokeResult{response: response, err: err}
	}()

	select {
	case result := <-done:
		return result.response, result.err
	case <-invokeCtx.Done():
		return nil, invokeCtx.Err()
	}
}
