// Package main provides the automato schedule manager. Exactly one instance
// should be active at a time; uniqueness is guaranteed by the deployment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/ciroautuori/automato/pkg/cmd"
	"github.com/ciroautuori/automato/pkg/log"
	"github.com/ciroautuori/automato/pkg/scheduler"
	"github.com/ciroautuori/automato/pkg/trigger"
	"github.com/ciroautuori/automato/pkg/workflow"
)

func main() {
	logger := log.WithModule("automato-scheduler")

	command := &cli.Command{
		Name:                  "automato-scheduler",
		Usage:                 "Dispatch scheduled workflow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often due schedules are polled",
				Value:   time.Minute,
				Sources: cli.EnvVars("TICK_INTERVAL"),
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

			logger.InfoContext(ctx, "Initializing Automato Scheduler")

			registry := cmd.NewRegistry(logger)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "automato-scheduler", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			engine := workflow.NewEngine(persistence, registry, eventBus, nil, logger, "scheduler")
			dispatcher := trigger.NewDispatcher(persistence, engine, logger)
			manager := scheduler.NewScheduler(persistence, dispatcher, eventBus, logger, command.Duration("tick-interval"))

			if err := manager.Start(ctx); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigChan:
				logger.InfoContext(ctx, "Shutting down scheduler")
			case <-ctx.Done():
			}

			return manager.Stop(context.Background())
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
