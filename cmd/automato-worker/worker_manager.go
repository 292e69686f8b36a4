package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ciroautuori/automato/pkg/eventbus"
	"github.com/ciroautuori/automato/pkg/events"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/receivers/queue"
	"github.com/ciroautuori/automato/pkg/registry"
	"github.com/ciroautuori/automato/pkg/trigger"
	"github.com/ciroautuori/automato/pkg/workflow"
)

const (
	defaultConcurrency   = 8
	defaultSweepInterval = time.Minute

	// staleAfter is how long a running execution may go without a row update
	// before the recovery sweep treats its worker as dead.
	staleAfter = 5 * time.Minute
)

// WorkerManager consumes ExecutionStarted events and drives runs to
// completion with a bounded pool. A periodic sweep resumes parked retries and
// executions orphaned by a crashed worker.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	receiver    *queue.Receiver
	slots       chan struct{}
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *registry.Registry,
	tracer trace.Tracer,
	concurrency int,
) *WorkerManager {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	engine := workflow.NewEngine(persistence, registry, eventBus, tracer, logger, id)

	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "automato-worker", "worker_id", id),
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		engine:      engine,
		slots:       make(chan struct{}, concurrency),
	}
}

// WithQueueReceiver attaches a Redis stream receiver that feeds external
// events into the trigger dispatcher.
func (w *WorkerManager) WithQueueReceiver(config queue.Config) error {
	dispatcher := trigger.NewDispatcher(w.persistence, w.engine, w.logger)

	receiver, err := queue.NewReceiver(config, w.persistence, dispatcher, w.logger)
	if err != nil {
		return err
	}

	w.receiver = receiver

	return nil
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := w.eventBus.Handle(events.ExecutionStartedEvent, w.handleExecutionStarted); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.receiver != nil {
		if err := w.receiver.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := w.receiver.Stop(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Failed to stop queue receiver", "error", err)
			}
		}()
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()

	go w.sweep(sweepCtx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.InfoContext(ctx, "Shutting down worker")
	case <-ctx.Done():
	}

	return nil
}

func (w *WorkerManager) handleExecutionStarted(ctx context.Context, event any) error {
	started, ok := event.(*events.ExecutionStarted)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionStarted")

		return nil
	}

	logger := w.logger.With(
		"execution_id", started.ExecutionID,
		"definition_id", started.DefinitionID,
		"event_id", started.ID,
	)
	logger.InfoContext(ctx, "Processing execution started event")

	w.slots <- struct{}{}
	defer func() { <-w.slots }()

	execution, err := w.engine.Run(ctx, started.ExecutionID)
	if err != nil {
		if persistence.IsConcurrencyConflict(err) {
			// Another worker holds the run; the sweep picks it up if that
			// worker dies.
			logger.InfoContext(ctx, "Execution already claimed by another worker")

			return nil
		}

		logger.ErrorContext(ctx, "Failed to run execution", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Execution processed", "status", execution.Status)

	return nil
}

// sweep periodically resumes due retries and stale running executions.
func (w *WorkerManager) sweep(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.engine.ResumeDue(ctx, staleAfter); err != nil {
				w.logger.ErrorContext(ctx, "Recovery sweep failed", "error", err)
			}
		}
	}
}
