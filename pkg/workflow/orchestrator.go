package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mercato/mercato/pkg/eventbus"
	"github.com/mercato/mercato/pkg/events"
	"github.com/mercato/mercato/pkg/lock"
	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/otelhelper"
	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/registry"
)

// Orchestrator drives transaction contexts through workflow definitions:
// dispatching ready steps stage by stage, parking executions on async steps,
// compensating completed work when a later step fails, and persisting every
// state transition so executions survive a process restart.
type Orchestrator struct {
	registry  *registry.Registry
	store     persistence.Persistence
	locker    lock.TransactionLocker
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithLocker replaces the default in-process locker, e.g. with the Redis
// locker when several engine instances share the store.
func WithLocker(locker lock.TransactionLocker) OrchestratorOption {
	return func(o *Orchestrator) { o.locker = locker }
}

// WithEventPublisher enables lifecycle event publishing.
func WithEventPublisher(publisher eventbus.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = publisher }
}

// WithTracer enables tracing of workflow and step execution.
func WithTracer(tracer trace.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

func NewOrchestrator(reg *registry.Registry, store persistence.Persistence, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		store:    store,
		locker:   lock.NewMemoryLocker(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Start creates and persists a fresh transaction context for the named
// workflow, then runs the synchronous portion of its plan. The returned
// context is settled: done, waiting on an async step, failed or reverted.
// Step handler failures never surface as an error here; they are recorded on
// the context and drive compensation instead.
func (o *Orchestrator) Start(ctx context.Context, workflowID, transactionID string, payload any) (*models.TransactionContext, error) {
	def, err := o.registry.Workflow(workflowID)
	if err != nil {
		return nil, err
	}

	err = validatePayload(def, payload)
	if err != nil {
		return nil, err
	}

	if transactionID == "" {
		transactionID = uuid.New().String()
	}

	if o.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, o.tracer, "workflow.start",
			attribute.String(otelhelper.WorkflowIDKey, workflowID),
			attribute.String(otelhelper.TransactionIDKey, transactionID),
		)
		defer span.End()
	}

	release, err := o.locker.Acquire(ctx, lock.Key(workflowID, transactionID))
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := o.store.Execution(ctx, workflowID, transactionID)
	if err != nil && !persistence.IsExecutionNotFound(err) {
		return nil, err
	}

	if existing != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrTransactionAlreadyExists, workflowID, transactionID)
	}

	trx := models.NewTransactionContext(uuid.New().String(), def, transactionID, payload)

	err = o.store.SaveExecution(ctx, trx)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Started workflow execution",
		"workflow_id", workflowID, "transaction_id", transactionID, "execution_id", trx.ID)

	o.publish(ctx, events.ExecutionStarted{
		BaseEvent:   events.ForTransaction(uuid.New().String(), events.ExecutionStartedEvent, trx),
		ExecutionID: trx.ID,
		Payload:     payload,
	})

	return o.dispatch(ctx, def, trx)
}

// RespondToAsyncStep injects the out-of-band completion of an async step and
// resumes dispatch of the owning execution.
func (o *Orchestrator) RespondToAsyncStep(ctx context.Context, workflowID, transactionID, stepName string, response any) (*models.TransactionContext, error) {
	def, err := o.registry.Workflow(workflowID)
	if err != nil {
		return nil, err
	}

	release, err := o.locker.Acquire(ctx, lock.Key(workflowID, transactionID))
	if err != nil {
		return nil, err
	}
	defer release()

	trx, err := o.loadTransaction(ctx, workflowID, transactionID)
	if err != nil {
		return nil, err
	}

	state, ok := trx.StepStates[stepName]
	if !ok || state.Status != models.StepStatusWaiting {
		return nil, fmt.Errorf("%w: %s in %s/%s", ErrStepNotWaiting, stepName, workflowID, transactionID)
	}

	trx.MarkStepSuccess(stepName, models.NewStepResponse(response))
	trx.SetState(models.TransactionStateInvoking)

	err = o.store.SaveExecution(ctx, trx)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, events.StepCompleted{
		BaseEvent:   events.ForTransaction(uuid.New().String(), events.StepCompletedEvent, trx),
		ExecutionID: trx.ID,
		StepID:      stepName,
		Output:      response,
	})

	return o.dispatch(ctx, def, trx)
}

// FailAsyncStep injects an out-of-band failure for a waiting async step. The
// failure is terminal for the step and triggers compensation.
func (o *Orchestrator) FailAsyncStep(ctx context.Context, workflowID, transactionID, stepName string, reason string) (*models.TransactionContext, error) {
	def, err := o.registry.Workflow(workflowID)
	if err != nil {
		return nil, err
	}

	release, err := o.locker.Acquire(ctx, lock.Key(workflowID, transactionID))
	if err != nil {
		return nil, err
	}
	defer release()

	trx, err := o.loadTransaction(ctx, workflowID, transactionID)
	if err != nil {
		return nil, err
	}

	state, ok := trx.StepStates[stepName]
	if !ok || state.Status != models.StepStatusWaiting {
		return nil, fmt.Errorf("%w: %s in %s/%s", ErrStepNotWaiting, stepName, workflowID, transactionID)
	}

	handlerErr := &StepHandlerError{StepName: stepName, Err: fmt.Errorf("async failure: %s", reason)}
	trx.MarkStepFailed(stepName, handlerErr)

	err = o.store.SaveExecution(ctx, trx)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, events.StepFailed{
		BaseEvent:   events.ForTransaction(uuid.New().String(), events.StepFailedEvent, trx),
		ExecutionID: trx.ID,
		StepID:      stepName,
		Error:       handlerErr.Error(),
	})

	return o.revert(ctx, def, trx)
}

// Resume continues a persisted execution after a process restart: dispatch
// picks up where the last persisted transition left off, including a revert
// sweep interrupted mid-compensation.
func (o *Orchestrator) Resume(ctx context.Context, workflowID, transactionID string) (*models.TransactionContext, error) {
	def, err := o.registry.Workflow(workflowID)
	if err != nil {
		return nil, err
	}

	release, err := o.locker.Acquire(ctx, lock.Key(workflowID, transactionID))
	if err != nil {
		return nil, err
	}
	defer release()

	trx, err := o.loadTransaction(ctx, workflowID, transactionID)
	if err != nil {
		return nil, err
	}

	switch {
	case trx.State.IsTerminal():
		return trx, nil
	case trx.State == models.TransactionStateReverting:
		return o.revert(ctx, def, trx)
	default:
		return o.dispatch(ctx, def, trx)
	}
}

func (o *Orchestrator) loadTransaction(ctx context.Context, workflowID, transactionID string) (*models.TransactionContext, error) {
	trx, err := o.store.Execution(ctx, workflowID, transactionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrTransactionNotFound, workflowID, transactionID)
		}

		return nil, err
	}

	return trx, nil
}

func (o *Orchestrator) publish(ctx context.Context, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, string(event.GetType()), event)
	if err != nil {
		o.logger.Warn("Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}
