package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

// StepLogRepository handles step log database operations.
type StepLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepLogRepository creates a new step log repository.
func NewStepLogRepository(db *sql.DB, logger *slog.Logger) *StepLogRepository {
	return &StepLogRepository{db: db, logger: logger}
}

const stepLogColumns = `
	id
  , execution_id
  , step_id
  , step_type
  , step_name
  , attempt
  , status
  , input
  , output
  , error
  , started_at
  , finished_at
  , duration_ms
`

func (r *StepLogRepository) Append(ctx context.Context, log *models.StepLog) error {
	inputJSON, outputJSON, err := marshalStepLogJSON(log)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_step_logs (
			id, execution_id, step_id, step_type, step_name, attempt,
			status, input, output, error, started_at, finished_at, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.ExecutionID,
		log.StepID,
		log.StepType,
		log.StepName,
		log.Attempt,
		log.Status,
		inputJSON,
		outputJSON,
		nullString(log.Error),
		log.StartedAt,
		log.FinishedAt,
		log.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to append step log: %w", err)
	}

	return nil
}

// Update records the outcome of a running attempt. Terminal logs are
// immutable; the status guard in the WHERE clause enforces that at the
// database level.
func (r *StepLogRepository) Update(ctx context.Context, log *models.StepLog) error {
	inputJSON, outputJSON, err := marshalStepLogJSON(log)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_step_logs
		SET status = $2,
			input = $3,
			output = $4,
			error = $5,
			finished_at = $6,
			duration_ms = $7
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Status,
		inputJSON,
		outputJSON,
		nullString(log.Error),
		log.FinishedAt,
		log.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to update step log: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		exists, existsErr := r.exists(ctx, log.ID)
		if existsErr != nil {
			return fmt.Errorf("failed to check step log existence: %w", existsErr)
		}

		if !exists {
			return persistence.ErrStepLogNotFound
		}

		return persistence.ErrStepLogTerminal
	}

	return nil
}

func (r *StepLogRepository) GetByAttempt(ctx context.Context, executionID, stepID string, attempt int) (*models.StepLog, error) {
	query := `SELECT ` + stepLogColumns + `
		FROM workflow_step_logs
		WHERE execution_id = $1 AND step_id = $2 AND attempt = $3
	`

	log, err := r.scanStepLog(r.db.QueryRowContext(ctx, query, executionID, stepID, attempt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepLogNotFound
		}

		return nil, fmt.Errorf("failed to scan step log: %w", err)
	}

	return log, nil
}

func (r *StepLogRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.StepLog, error) {
	query := `SELECT ` + stepLogColumns + `
		FROM workflow_step_logs
		WHERE execution_id = $1
		ORDER BY started_at ASC, attempt ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step logs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	logs := make([]*models.StepLog, 0)

	for rows.Next() {
		log, err := r.scanStepLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step logs: %w", err)
	}

	return logs, nil
}

func (r *StepLogRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_step_logs WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func marshalStepLogJSON(log *models.StepLog) (input []byte, output []byte, err error) {
	if log.Input != nil {
		input, err = json.Marshal(log.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal step log input: %w", err)
		}
	}

	if log.Output != nil {
		output, err = json.Marshal(log.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal step log output: %w", err)
		}
	}

	return input, output, nil
}

func (r *StepLogRepository) scanStepLog(row rowScanner) (*models.StepLog, error) {
	var (
		log        models.StepLog
		inputJSON  []byte
		outputJSON []byte
		errMessage sql.NullString
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&log.ID,
		&log.ExecutionID,
		&log.StepID,
		&log.StepType,
		&log.StepName,
		&log.Attempt,
		&log.Status,
		&inputJSON,
		&outputJSON,
		&errMessage,
		&log.StartedAt,
		&finishedAt,
		&log.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &log.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step log input: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &log.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step log output: %w", err)
		}
	}

	log.Error = errMessage.String

	if finishedAt.Valid {
		log.FinishedAt = &finishedAt.Time
	}

	return &log, nil
}
