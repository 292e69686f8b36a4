// Package persistence provides the data storage abstraction for workflow
// definitions, executions, step logs and schedules.
package persistence

import (
	"context"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
)

type Persistence interface {
	Definitions() DefinitionRepository
	Executions() ExecutionRepository
	StepLogs() StepLogRepository
	Schedules() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions. Definitions are never
// hard-deleted; archiving is a status change.
type DefinitionRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error

	// IncrementExecutionStats atomically bumps the execution counters and
	// last_execution_at. Implementations must not read-modify-write;
	// concurrent executions of one definition are the normal case.
	IncrementExecutionStats(ctx context.Context, id string, success bool, at time.Time) error
}

// ExecutionRepository stores workflow executions. Update enforces optimistic
// concurrency on the execution's Version and returns ErrConcurrencyConflict
// when another writer got there first.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	Update(ctx context.Context, execution *models.WorkflowExecution) error

	// ListResumable returns executions a recovery sweep should pick up:
	// retrying executions whose next_retry_at has passed, and running
	// executions not touched since staleBefore (in-flight state lost to a
	// crash).
	ListResumable(ctx context.Context, now time.Time, staleBefore time.Time) ([]*models.WorkflowExecution, error)
}

// StepLogRepository stores step attempt logs. Logs are append-only: Update is
// only legal to move a running log to its terminal status.
type StepLogRepository interface {
	Append(ctx context.Context, stepLog *models.StepLog) error
	Update(ctx context.Context, stepLog *models.StepLog) error
	GetByAttempt(ctx context.Context, executionID, stepID string, attempt int) (*models.StepLog, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.StepLog, error)
}

// ScheduleRepository stores cron schedules. A definition may carry many
// schedules, unique per cron expression.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *models.Schedule) error
	GetByID(ctx context.Context, id string) (*models.Schedule, error)
	ListByDefinition(ctx context.Context, definitionID string) ([]*models.Schedule, error)
	Update(ctx context.Context, schedule *models.Schedule) error

	// DueSchedules returns active schedules with next_run_at <= now.
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)
}
