package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/registry"
	"github.com/mercato/mercato/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleOrchestrationError provides typed error handling for engine errors.
func handleOrchestrationError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, registry.ErrUnknownWorkflow):
		return notFound(c, "workflow_not_found", "workflow not found")

	case errors.Is(err, workflow.ErrInvalidPayload):
		return badRequest(c, err.Error())

	case errors.Is(err, workflow.ErrTransactionAlreadyExists):
		return conflict(c, "transaction_already_exists", err.Error())

	case errors.Is(err, workflow.ErrTransactionNotFound):
		return notFound(c, "transaction_not_found", "workflow execution not found")

	case errors.Is(err, workflow.ErrStepNotWaiting):
		return conflict(c, "step_not_waiting", err.Error())

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "workflow execution not found")

	default:
		return internalError(c, err)
	}
}
