package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , definition_id
  , snapshot
  , status
  , current_step_id
  , current_step_index
  , current_attempt
  , step_visits
  , total_steps
  , retry_count
  , max_retries
  , next_retry_at
  , trigger_type
  , triggered_by
  , schedule_id
  , input_data
  , step_results
  , output
  , error_message
  , version
  , started_at
  , updated_at
  , completed_at
`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	fields, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	execution.Version = 1

	query := `
		INSERT INTO workflow_executions (
			id, definition_id, snapshot, status, current_step_id,
			current_step_index, current_attempt, step_visits, total_steps,
			retry_count, max_retries, next_retry_at, trigger_type,
			triggered_by, schedule_id, input_data, step_results, output,
			error_message, version, started_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.DefinitionID,
		fields.snapshot,
		execution.Status,
		execution.CurrentStepID,
		execution.CurrentStepIndex,
		execution.CurrentAttempt,
		fields.stepVisits,
		execution.TotalSteps,
		execution.RetryCount,
		execution.MaxRetries,
		execution.NextRetryAt,
		execution.TriggerType,
		nullString(execution.TriggeredBy),
		nullString(execution.ScheduleID),
		fields.inputData,
		fields.stepResults,
		fields.output,
		nullString(execution.ErrorMessage),
		execution.Version,
		execution.StartedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// Update persists the execution under optimistic concurrency control. The
// stored row must still carry the version the caller loaded; a mismatch means
// another writer won the race and the caller must re-read and retry.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	fields, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET status = $3,
			current_step_id = $4,
			current_step_index = $5,
			current_attempt = $6,
			step_visits = $7,
			retry_count = $8,
			next_retry_at = $9,
			step_results = $10,
			output = $11,
			error_message = $12,
			version = version + 1,
			updated_at = $13,
			completed_at = $14
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Version,
		execution.Status,
		execution.CurrentStepID,
		execution.CurrentStepIndex,
		execution.CurrentAttempt,
		fields.stepVisits,
		execution.RetryCount,
		execution.NextRetryAt,
		fields.stepResults,
		fields.output,
		nullString(execution.ErrorMessage),
		execution.UpdatedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		exists, existsErr := r.exists(ctx, execution.ID)
		if existsErr != nil {
			return persistence.NewExecutionError("Update", execution.ID, existsErr)
		}

		if !exists {
			return persistence.ErrExecutionNotFound
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrConcurrencyConflict)
	}

	execution.Version++

	return nil
}

// ListResumable returns executions a recovery sweep should pick up: retrying
// ones whose backoff elapsed, plus pending or running ones whose last update
// predates the staleness horizon.
func (r *ExecutionRepository) ListResumable(ctx context.Context, now time.Time, staleBefore time.Time) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE (status = 'retrying' AND next_retry_at <= $1)
		   OR (status IN ('pending', 'running') AND updated_at < $2)
		ORDER BY updated_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

type executionJSON struct {
	snapshot    []byte
	stepVisits  []byte
	inputData   []byte
	stepResults []byte
	output      []byte
}

func marshalExecutionJSON(execution *models.WorkflowExecution) (*executionJSON, error) {
	snapshot, err := json.Marshal(execution.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	visits := execution.StepVisits
	if visits == nil {
		visits = map[string]int{}
	}

	stepVisits, err := json.Marshal(visits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step visits: %w", err)
	}

	inputData, err := json.Marshal(execution.InputData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input data: %w", err)
	}

	stepResults, err := json.Marshal(execution.StepResults)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step results: %w", err)
	}

	var output []byte

	if execution.Output != nil {
		output, err = json.Marshal(execution.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output: %w", err)
		}
	}

	return &executionJSON{
		snapshot:    snapshot,
		stepVisits:  stepVisits,
		inputData:   inputData,
		stepResults: stepResults,
		output:      output,
	}, nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		snapshotJSON    []byte
		stepVisitsJSON  []byte
		nextRetryAt     sql.NullTime
		triggeredBy     sql.NullString
		scheduleID      sql.NullString
		inputDataJSON   []byte
		stepResultsJSON []byte
		outputJSON      []byte
		errorMessage    sql.NullString
		completedAt     sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.DefinitionID,
		&snapshotJSON,
		&execution.Status,
		&execution.CurrentStepID,
		&execution.CurrentStepIndex,
		&execution.CurrentAttempt,
		&stepVisitsJSON,
		&execution.TotalSteps,
		&execution.RetryCount,
		&execution.MaxRetries,
		&nextRetryAt,
		&execution.TriggerType,
		&triggeredBy,
		&scheduleID,
		&inputDataJSON,
		&stepResultsJSON,
		&outputJSON,
		&errorMessage,
		&execution.Version,
		&execution.StartedAt,
		&execution.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(snapshotJSON, &execution.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	if len(stepVisitsJSON) > 0 {
		if err := json.Unmarshal(stepVisitsJSON, &execution.StepVisits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step visits: %w", err)
		}
	}

	if len(inputDataJSON) > 0 {
		if err := json.Unmarshal(inputDataJSON, &execution.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
		}
	}

	if len(stepResultsJSON) > 0 {
		if err := json.Unmarshal(stepResultsJSON, &execution.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	if nextRetryAt.Valid {
		execution.NextRetryAt = &nextRetryAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	execution.TriggeredBy = triggeredBy.String
	execution.ScheduleID = scheduleID.String
	execution.ErrorMessage = errorMessage.String

	return &execution, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
