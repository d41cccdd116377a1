// Package main provides the retention reaper: a scheduled job that soft
// deletes expired execution records and purges them for good once their
// retention window has fully elapsed.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/mercato/mercato/pkg/cmd"
	"github.com/mercato/mercato/pkg/log"
	"github.com/mercato/mercato/pkg/persistence"
)

func main() {
	command := &cli.Command{
		Name:                  "mercato-reaper",
		Usage:                 "Expire and purge workflow execution records",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for the execution store",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the reap cycle",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("REAPER_SCHEDULE"),
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

			logger := log.WithModule("reaper")
			logger.InfoContext(ctx, "Initializing Mercato reaper")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			scheduler := cron.New()

			_, err = scheduler.AddFunc(command.String("schedule"), func() {
				reap(ctx, logger, store)
			})
			if err != nil {
				return err
			}

			scheduler.Start()
			logger.InfoContext(ctx, "Reaper started", "schedule", command.String("schedule"))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			logger.InfoContext(ctx, "Shutting down reaper")
			<-scheduler.Stop().Done()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func reap(ctx context.Context, logger *slog.Logger, store persistence.Persistence) {
	now := time.Now().UTC()

	marked, err := store.MarkExpired(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark expired executions", "error", err)

		return
	}

	purged, err := store.PurgeExpired(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to purge expired executions", "error", err)

		return
	}

	if marked > 0 || purged > 0 {
		logger.InfoContext(ctx, "Reap cycle completed", "marked", marked, "purged", purged)
	}
}
