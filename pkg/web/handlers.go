// Package web provides the REST API for running and inspecting workflow
// executions.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/registry"
	"github.com/mercato/mercato/pkg/workflow"
)

type APIHandlers struct {
	orchestrator *workflow.Orchestrator
	store        persistence.Persistence
	validator    *validator.Validate
	registry     *registry.Registry
}

func NewAPIHandlers(
	orchestrator *workflow.Orchestrator,
	store persistence.Persistence,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		orchestrator: orchestrator,
		store:        store,
		validator:    validator,
		registry:     registry,
	}
}

// RunWorkflow starts an execution of the named workflow and returns an
// acknowledgement once the initial dispatch settled.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req RunWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	trx, err := h.orchestrator.Start(c.Context(), workflowID, req.TransactionID, req.Input)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(RunWorkflowResponse{
		Acknowledgement: Acknowledgement{
			TransactionID: trx.TransactionID,
			WorkflowID:    trx.WorkflowID,
		},
	})
}

// ListExecutions returns the filtered, paginated executions together with the
// total match count.
func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	opts, err := h.parseListExecutionsOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.store.ListExecutions(c.Context(), *opts)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(TransformExecutionsResponse(result.Count, result.Executions))
}

// parseListExecutionsOptions parses and validates the list query parameters.
func (h *APIHandlers) parseListExecutionsOptions(c fiber.Ctx) (*persistence.ListExecutionsOptions, error) {
	opts := &persistence.ListExecutionsOptions{}

	opts.WorkflowID = c.Query("workflow_id")

	// transaction_id is repeatable, with or without the bracket suffix.
	queryArgs := c.RequestCtx().QueryArgs()
	for _, key := range []string{"transaction_id", "transaction_id[]"} {
		for _, value := range queryArgs.PeekMulti(key) {
			if len(value) > 0 {
				opts.TransactionIDs = append(opts.TransactionIDs, string(value))
			}
		}
	}

	if stateStr := c.Query("state"); stateStr != "" {
		for _, state := range strings.Split(stateStr, ",") {
			opts.States = append(opts.States, models.TransactionState(state))
		}
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	return opts, nil
}

// GetExecutionByID returns one execution by its record id.
func (h *APIHandlers) GetExecutionByID(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	trx, err := h.store.ExecutionByID(c.Context(), id)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(fiber.Map{"workflow_execution": TransformExecutionResponse(trx)})
}

// GetExecution returns one execution by its (workflow id, transaction id)
// pair.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	transactionID := c.Params("transactionId")

	if workflowID == "" || transactionID == "" {
		return badRequest(c, "Workflow ID and transaction ID are required")
	}

	trx, err := h.store.Execution(c.Context(), workflowID, transactionID)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(fiber.Map{"workflow_execution": TransformExecutionResponse(trx)})
}

// SetStepSuccess completes a waiting async step with the provided response
// and resumes dispatch.
func (h *APIHandlers) SetStepSuccess(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StepSuccessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	_, err := h.orchestrator.RespondToAsyncStep(c.Context(), workflowID, req.TransactionID, req.StepID, req.Response)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(StepAckResponse{Success: true})
}

// SetStepFailure fails a waiting async step and triggers compensation.
func (h *APIHandlers) SetStepFailure(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StepFailureRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	_, err := h.orchestrator.FailAsyncStep(c.Context(), workflowID, req.TransactionID, req.StepID, req.Error)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(StepAckResponse{Success: true})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()

	storeCheck := "ok"
	storeOk := true

	if err := h.store.HealthCheck(c.Context()); err != nil {
		storeCheck = err.Error()
		storeOk = false
	}

	status := "unhealthy"
	message := "Mercato API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && storeOk {
		status = "healthy"
		message = "Mercato API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": registryCheck,
			"store":    storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
