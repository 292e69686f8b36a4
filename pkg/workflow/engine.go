package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ciroautuori/automato/pkg/eventbus"
	"github.com/ciroautuori/automato/pkg/events"
	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/otelhelper"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/registry"
)

// resumeConflictRetries bounds how often the recovery sweep re-reads an
// execution after losing an optimistic-version race to a live worker.
const resumeConflictRetries = 3

// Engine drives executions through their state machine. All mutations go
// through the optimistic version column, so a recovery sweep and a live
// advance can never both win a write on the same run.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	workerID    string
}

// NewEngine creates an execution engine. A nil tracer disables tracing.
func NewEngine(
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
	workerID string,
) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("workflow-engine")
	}

	return &Engine{
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		tracer:      tracer,
		logger:      logger.With("module", "workflow_engine", "worker_id", workerID),
		workerID:    workerID,
	}
}

// Start snapshots the definition, creates a running execution and announces
// it on the event bus. The snapshot insulates the run from later edits.
func (e *Engine) Start(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	triggerType models.TriggerType,
	triggeredBy string,
	scheduleID string,
	input map[string]any,
) (*models.WorkflowExecution, error) {
	snapshot := definition.Snapshot()
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid step graph for definition %s: %w", definition.ID, err)
	}

	now := time.Now().UTC()
	execution := models.NewWorkflowExecution(uuid.New().String(), snapshot, triggerType, triggeredBy, input, now)
	execution.ScheduleID = scheduleID

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.DefinitionIDKey, definition.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(triggerType)),
	)
	defer span.End()

	if err := e.persistence.Executions().Create(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	execution.MarkRunning(now)

	if err := e.persistence.Executions().Update(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to start execution: %w", err)
	}

	e.logger.InfoContext(ctx, "execution started",
		"execution_id", execution.ID,
		"definition_id", definition.ID,
		"trigger_type", triggerType,
		"total_steps", execution.TotalSteps)

	e.publish(ctx, execution.DefinitionID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, execution.DefinitionID),
		ExecutionID: execution.ID,
		TriggerType: string(triggerType),
		TriggeredBy: triggeredBy,
		ScheduleID:  scheduleID,
		InputData:   input,
	})

	return execution, nil
}

// Run drives Advance until the execution reaches a terminal state or parks
// in RETRYING with a future retry time.
func (e *Engine) Run(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	for {
		execution, err := e.Advance(ctx, executionID)
		if err != nil {
			return execution, err
		}

		if execution.IsTerminal() {
			return execution, nil
		}

		if execution.Status == models.ExecutionStatusRetrying && !execution.RetryDue(time.Now().UTC()) {
			return execution, nil
		}
	}
}

// Advance performs one step attempt. It is idempotent: terminal executions
// are left untouched, and an attempt whose outcome is already recorded in a
// step log is replayed from the log instead of re-invoking the executor.
func (e *Engine) Advance(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.IsTerminal() {
		return execution, nil
	}

	now := time.Now().UTC()

	switch execution.Status {
	case models.ExecutionStatusPending:
		execution.MarkRunning(now)

		if err := e.persistence.Executions().Update(ctx, execution); err != nil {
			return nil, err
		}
	case models.ExecutionStatusRetrying:
		if !execution.RetryDue(now) {
			return execution, nil
		}

		execution.MarkRunning(now)

		if err := e.persistence.Executions().Update(ctx, execution); err != nil {
			return nil, err
		}
	case models.ExecutionStatusRunning:
	}

	if execution.CurrentStepID == "" || execution.CurrentStepID == models.TerminalStepID {
		return e.complete(ctx, execution)
	}

	step, err := execution.CurrentStep()
	if err != nil {
		return e.fail(ctx, execution, err.Error())
	}

	if !step.Enabled {
		return e.routeSuccess(ctx, execution, step, nil)
	}

	attempt := execution.CurrentAttempt

	// Crash recovery: an attempt whose outcome was already recorded must not
	// run its side effect again.
	stepLog, logErr := e.persistence.StepLogs().GetByAttempt(ctx, execution.ID, step.ID, attempt)

	switch {
	case logErr == nil && stepLog.IsTerminal():
		e.logger.InfoContext(ctx, "replaying recorded step outcome",
			"execution_id", execution.ID, "step_id", step.ID, "attempt", attempt)

		return e.applyRecorded(ctx, execution, step, stepLog)
	case logErr == nil:
		// A crash interrupted this attempt after its log was opened. The
		// open row is reused; appending again would collide on the
		// (execution, step, attempt) key.
		e.logger.InfoContext(ctx, "resuming interrupted step attempt",
			"execution_id", execution.ID, "step_id", step.ID, "attempt", attempt)
	default:
		stepLog = models.NewStepLog(uuid.New().String(), step, execution.ID, attempt, step.Config, now)
		if err := e.persistence.StepLogs().Append(ctx, stepLog); err != nil {
			return nil, fmt.Errorf("failed to append step log: %w", err)
		}
	}

	// The execution row is not held during the invocation, so cancellation
	// and status queries stay responsive while a slow step runs.
	output, stepErr := e.invoke(ctx, execution, step, attempt)
	finishedAt := time.Now().UTC()

	execution, err = e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status == models.ExecutionStatusCancelled {
		// Cancelled while the step ran: the in-flight result is discarded.
		stepLog.MarkFailed("execution cancelled while step was in flight", finishedAt)

		if err := e.persistence.StepLogs().Update(ctx, stepLog); err != nil {
			e.logger.ErrorContext(ctx, "failed to finalize step log after cancellation", "error", err)
		}

		return execution, nil
	}

	if stepErr != nil {
		stepLog.MarkFailed(stepErr.Error(), finishedAt)

		if err := e.persistence.StepLogs().Update(ctx, stepLog); err != nil {
			return nil, fmt.Errorf("failed to record step failure: %w", err)
		}

		e.publish(ctx, execution.DefinitionID, events.StepFailed{
			BaseEvent:   e.baseEvent(events.StepFailedEvent, execution.DefinitionID),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			Attempt:     attempt,
			DurationMs:  stepLog.DurationMS,
			Error:       stepErr.Error(),
		})

		return e.routeFailure(ctx, execution, step, stepErr)
	}

	stepLog.MarkCompleted(output, finishedAt)

	if err := e.persistence.StepLogs().Update(ctx, stepLog); err != nil {
		return nil, fmt.Errorf("failed to record step success: %w", err)
	}

	e.publish(ctx, execution.DefinitionID, events.StepCompleted{
		BaseEvent:   e.baseEvent(events.StepCompletedEvent, execution.DefinitionID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		Attempt:     attempt,
		DurationMs:  stepLog.DurationMS,
		Output:      output,
	})

	return e.routeSuccess(ctx, execution, step, output)
}

// Cancel requests cooperative cancellation. An in-flight step invocation is
// allowed to finish; its result is discarded and no further step starts.
func (e *Engine) Cancel(ctx context.Context, executionID, cancelledBy string) (*models.WorkflowExecution, error) {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !execution.CanCancel() {
		return nil, fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrNotCancellable)
	}

	now := time.Now().UTC()
	startedAt := execution.StartedAt
	execution.MarkCancelled(now)

	if err := e.persistence.Executions().Update(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID, "cancelled_by", cancelledBy)

	if err := e.recordResult(ctx, execution, false); err != nil {
		e.logger.ErrorContext(ctx, "failed to record execution result", "error", err)
	}

	e.publish(ctx, execution.DefinitionID, events.ExecutionCancelled{
		BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent, execution.DefinitionID),
		ExecutionID: execution.ID,
		ScheduleID:  execution.ScheduleID,
		CancelledBy: cancelledBy,
		DurationMs:  now.Sub(startedAt).Milliseconds(),
	})

	return execution, nil
}

// ResumeDue is the crash-recovery sweep: it re-drives retrying executions
// whose backoff elapsed and running or pending executions that have not been
// touched since the staleness horizon.
func (e *Engine) ResumeDue(ctx context.Context, staleAfter time.Duration) error {
	now := time.Now().UTC()

	resumable, err := e.persistence.Executions().ListResumable(ctx, now, now.Add(-staleAfter))
	if err != nil {
		return fmt.Errorf("failed to list resumable executions: %w", err)
	}

	for _, execution := range resumable {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.resumeOne(ctx, execution.ID)
	}

	return nil
}

func (e *Engine) resumeOne(ctx context.Context, executionID string) {
	for attempt := 0; attempt < resumeConflictRetries; attempt++ {
		_, err := e.Run(ctx, executionID)
		if err == nil {
			return
		}

		if !persistence.IsConcurrencyConflict(err) {
			e.logger.ErrorContext(ctx, "failed to resume execution", "execution_id", executionID, "error", err)

			return
		}

		// A live worker owns this run right now; it will finish the job.
		e.logger.DebugContext(ctx, "resume lost version race", "execution_id", executionID, "attempt", attempt+1)
	}
}

func (e *Engine) routeSuccess(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, output map[string]any) (*models.WorkflowExecution, error) {
	now := time.Now().UTC()

	if output != nil {
		if execution.StepResults == nil {
			execution.StepResults = make(map[string]any)
		}

		execution.StepResults[step.ID] = output
	}

	next := step.NextStepID(true)
	if next == "" || next == models.TerminalStepID {
		return e.complete(ctx, execution)
	}

	execution.AdvanceTo(next, now)

	if err := e.persistence.Executions().Update(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (e *Engine) routeFailure(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, stepErr error) (*models.WorkflowExecution, error) {
	now := time.Now().UTC()

	// An explicit on_failure edge is the author handling the failure; it
	// routes without consuming the retry budget. A target of the terminal
	// marker means stop here, failed.
	next := step.NextStepID(false)
	if next != "" {
		if next == models.TerminalStepID {
			return e.fail(ctx, execution, stepErr.Error())
		}

		execution.AdvanceTo(next, now)

		if err := e.persistence.Executions().Update(ctx, execution); err != nil {
			return nil, err
		}

		return execution, nil
	}

	if execution.RetryCount < execution.MaxRetries {
		nextRetryAt := now.Add(execution.Snapshot.Settings.RetryDelay(execution.RetryCount))
		execution.MarkRetrying(nextRetryAt, now)

		if err := e.persistence.Executions().Update(ctx, execution); err != nil {
			return nil, err
		}

		e.logger.InfoContext(ctx, "execution retrying",
			"execution_id", execution.ID,
			"step_id", step.ID,
			"retry_count", execution.RetryCount,
			"max_retries", execution.MaxRetries,
			"next_retry_at", nextRetryAt)

		e.publish(ctx, execution.DefinitionID, events.ExecutionRetrying{
			BaseEvent:   e.baseEvent(events.ExecutionRetryingEvent, execution.DefinitionID),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			RetryCount:  execution.RetryCount,
			MaxRetries:  execution.MaxRetries,
			NextRetryAt: nextRetryAt,
			Error:       stepErr.Error(),
		})

		return execution, nil
	}

	return e.fail(ctx, execution, fmt.Sprintf("%s: %s", ErrRetryBudgetExceeded.Error(), stepErr.Error()))
}

func (e *Engine) applyRecorded(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, recorded *models.StepLog) (*models.WorkflowExecution, error) {
	if recorded.Status == models.StepLogStatusCompleted {
		return e.routeSuccess(ctx, execution, step, recorded.Output)
	}

	return e.routeFailure(ctx, execution, step, NewStepExecutionError(step.ID, recorded.Attempt, fmt.Errorf("%s", recorded.Error)))
}

func (e *Engine) complete(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	now := time.Now().UTC()
	execution.MarkCompleted(execution.StepResults, now)

	if err := e.persistence.Executions().Update(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution completed",
		"execution_id", execution.ID,
		"definition_id", execution.DefinitionID,
		"duration_ms", now.Sub(execution.StartedAt).Milliseconds())

	if err := e.recordResult(ctx, execution, true); err != nil {
		e.logger.ErrorContext(ctx, "failed to record execution result", "error", err)
	}

	e.publish(ctx, execution.DefinitionID, events.ExecutionCompleted{
		BaseEvent:     e.baseEvent(events.ExecutionCompletedEvent, execution.DefinitionID),
		ExecutionID:   execution.ID,
		ScheduleID:    execution.ScheduleID,
		DurationMs:    now.Sub(execution.StartedAt).Milliseconds(),
		StepsExecuted: len(execution.StepResults),
		Output:        execution.Output,
	})

	return execution, nil
}

func (e *Engine) fail(ctx context.Context, execution *models.WorkflowExecution, message string) (*models.WorkflowExecution, error) {
	now := time.Now().UTC()
	execution.MarkFailed(message, now)

	if err := e.persistence.Executions().Update(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.WarnContext(ctx, "execution failed",
		"execution_id", execution.ID,
		"definition_id", execution.DefinitionID,
		"step_id", execution.CurrentStepID,
		"error", message)

	if err := e.recordResult(ctx, execution, false); err != nil {
		e.logger.ErrorContext(ctx, "failed to record execution result", "error", err)
	}

	e.publish(ctx, execution.DefinitionID, events.ExecutionFailed{
		BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, execution.DefinitionID),
		ExecutionID: execution.ID,
		ScheduleID:  execution.ScheduleID,
		StepID:      execution.CurrentStepID,
		RetryCount:  execution.RetryCount,
		DurationMs:  now.Sub(execution.StartedAt).Milliseconds(),
		Error:       message,
	})

	return execution, nil
}

// invoke runs one step attempt under the per-step deadline, converting
// executor panics and errors into a StepExecutionError.
func (e *Engine) invoke(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, attempt int) (output map[string]any, err error) {
	ctx, cancel := context.WithTimeout(ctx, execution.Snapshot.Settings.StepTimeout())
	defer cancel()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, step.Type),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = NewStepExecutionError(step.ID, attempt, fmt.Errorf("executor panicked: %v", r))
			otelhelper.SetError(span, err)
		}
	}()

	executor, err := e.registry.Create(step.Type, step.Config)
	if err != nil {
		return nil, NewStepExecutionError(step.ID, attempt, err)
	}

	logger := e.logger.With("execution_id", execution.ID, "step_id", step.ID, "attempt", attempt)

	result, err := executor.Execute(ctx, execution.Context(), logger)
	if err != nil {
		wrapped := NewStepExecutionError(step.ID, attempt, err)
		otelhelper.SetError(span, wrapped)

		return nil, wrapped
	}

	if result == nil {
		return map[string]any{}, nil
	}

	return result.Output, nil
}

func (e *Engine) recordResult(ctx context.Context, execution *models.WorkflowExecution, success bool) error {
	at := time.Now().UTC()
	if execution.CompletedAt != nil {
		at = *execution.CompletedAt
	}

	return e.persistence.Definitions().IncrementExecutionStats(ctx, execution.DefinitionID, success, at)
}

func (e *Engine) baseEvent(eventType events.EventType, definitionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		DefinitionID: definitionID,
		WorkerID:     e.workerID,
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
