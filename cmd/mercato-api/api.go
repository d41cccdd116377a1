// Package main provides the Mercato API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/registry"
	"github.com/mercato/mercato/pkg/web"
	"github.com/mercato/mercato/pkg/workflow"
)

type API struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	registry     *registry.Registry
	orchestrator *workflow.Orchestrator
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	orchestrator *workflow.Orchestrator,
) *API {
	return &API{
		logger:       logger,
		persistence:  persistence,
		registry:     registry,
		orchestrator: orchestrator,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.orchestrator, a.persistence, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Mercato API")
	})

	w := app.Group("/workflows-executions")
	w.Get("/", handlers.ListExecutions)
	w.Get("/:id", handlers.GetExecutionByID)
	w.Get("/:workflowId/:transactionId", handlers.GetExecution)
	w.Post("/:workflowId/run", handlers.RunWorkflow)
	w.Post("/:workflowId/steps/success", handlers.SetStepSuccess)
	w.Post("/:workflowId/steps/failure", handlers.SetStepFailure)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
