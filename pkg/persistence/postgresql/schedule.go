package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

const uniqueViolationCode = "23505"

// ScheduleRepository handles workflow schedule database operations.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
	id
  , definition_id
  , cron_expression
  , timezone
  , active
  , next_run_at
  , last_run_at
  , last_run_status
  , version
  , created_at
  , updated_at
`

func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	schedule.Version = 1

	query := `
		INSERT INTO workflow_schedules (
			id, definition_id, cron_expression, timezone, active,
			next_run_at, last_run_at, last_run_status, version,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.DefinitionID,
		schedule.CronExpression,
		schedule.Timezone,
		schedule.Active,
		schedule.NextRunAt,
		schedule.LastRunAt,
		nullString(schedule.LastRunStatus),
		schedule.Version,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return persistence.ErrScheduleAlreadyExists
		}

		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM workflow_schedules
		WHERE id = $1
	`

	schedule, err := r.scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM workflow_schedules
		WHERE definition_id = $1
		ORDER BY created_at ASC
	`

	return r.querySchedules(ctx, query, definitionID)
}

// Update persists the schedule under the same optimistic versioning scheme
// executions use, so concurrent scheduler instances cannot double-fire.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.Schedule) error {
	query := `
		UPDATE workflow_schedules
		SET cron_expression = $3,
			timezone = $4,
			active = $5,
			next_run_at = $6,
			last_run_at = $7,
			last_run_status = $8,
			version = version + 1,
			updated_at = $9
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Version,
		schedule.CronExpression,
		schedule.Timezone,
		schedule.Active,
		schedule.NextRunAt,
		schedule.LastRunAt,
		nullString(schedule.LastRunStatus),
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		exists, existsErr := r.exists(ctx, schedule.ID)
		if existsErr != nil {
			return fmt.Errorf("failed to check schedule existence: %w", existsErr)
		}

		if !exists {
			return persistence.ErrScheduleNotFound
		}

		return persistence.ErrConcurrencyConflict
	}

	schedule.Version++

	return nil
}

// DueSchedules returns active schedules with next_run_at <= now.
func (r *ScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM workflow_schedules
		WHERE active = true AND next_run_at <= $1
		ORDER BY next_run_at ASC
	`

	return r.querySchedules(ctx, query, now)
}

func (r *ScheduleRepository) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func (r *ScheduleRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_schedules WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (r *ScheduleRepository) scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		schedule      models.Schedule
		lastRunAt     sql.NullTime
		lastRunStatus sql.NullString
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.DefinitionID,
		&schedule.CronExpression,
		&schedule.Timezone,
		&schedule.Active,
		&schedule.NextRunAt,
		&lastRunAt,
		&lastRunStatus,
		&schedule.Version,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}

	schedule.LastRunStatus = lastRunStatus.String

	return &schedule, nil
}
