package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/mercato/mercato/pkg/cmd"
	"github.com/mercato/mercato/pkg/log"
	"github.com/mercato/mercato/pkg/otelhelper"
	"github.com/mercato/mercato/pkg/registry"
	"github.com/mercato/mercato/pkg/workflow"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "mercato-api",
		Usage:                 "Run and inspect workflow executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for the execution store",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the distributed transaction lock (in-process lock when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Mercato API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(command.String("redis-url"), logger)
			if err != nil {
				return err
			}

			reg := registry.NewRegistry(logger)

			err = registerWorkflows(reg)
			if err != nil {
				return err
			}

			opts := []workflow.OrchestratorOption{
				workflow.WithLocker(locker),
				workflow.WithEventPublisher(eventBus),
				workflow.WithLogger(logger),
			}

			if os.Getenv("OTEL_ENABLED") == "true" {
				tracer, err := otelhelper.NewTracer(ctx, "mercato-api")
				if err != nil {
					return err
				}

				opts = append(opts, workflow.WithTracer(tracer))
			}

			orchestrator := workflow.NewOrchestrator(reg, store, opts...)

			api := NewAPI(logger, store, reg, orchestrator)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
