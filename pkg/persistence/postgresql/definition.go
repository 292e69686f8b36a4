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

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `
	id
  , account_id
  , name
  , description
  , status
  , version
  , trigger_type
  , trigger_config
  , steps
  , settings
  , total_executions
  , successful_executions
  , failed_executions
  , last_execution_at
  , created_at
  , updated_at
  , archived_at
`

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE id = $1
	`

	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	triggerConfigJSON, err := json.Marshal(definition.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	stepsJSON, err := json.Marshal(definition.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	settingsJSON, err := json.Marshal(definition.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, account_id, name, description, status, version,
			trigger_type, trigger_config, steps, settings,
			last_execution_at, created_at, updated_at, archived_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			steps = EXCLUDED.steps,
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.AccountID,
		definition.Name,
		definition.Description,
		definition.Status,
		definition.Version,
		definition.TriggerType,
		triggerConfigJSON,
		stepsJSON,
		settingsJSON,
		definition.LastExecutionAt,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow definition: %w", err)
	}

	return nil
}

// IncrementExecutionStats bumps the counters in a single statement so
// concurrent executions of one definition never race read-modify-write.
func (r *DefinitionRepository) IncrementExecutionStats(ctx context.Context, id string, success bool, at time.Time) error {
	query := `
		UPDATE workflow_definitions
		SET total_executions = total_executions + 1,
			successful_executions = successful_executions + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_executions = failed_executions + CASE WHEN $2 THEN 0 ELSE 1 END,
			last_execution_at = $3,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, success, at)
	if err != nil {
		return fmt.Errorf("failed to increment execution stats: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDefinitionNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition        models.WorkflowDefinition
		accountID         sql.NullString
		triggerConfigJSON []byte
		stepsJSON         []byte
		settingsJSON      []byte
		lastExecutionAt   sql.NullTime
		archivedAt        sql.NullTime
	)

	err := row.Scan(
		&definition.ID,
		&accountID,
		&definition.Name,
		&definition.Description,
		&definition.Status,
		&definition.Version,
		&definition.TriggerType,
		&triggerConfigJSON,
		&stepsJSON,
		&settingsJSON,
		&definition.TotalExecutions,
		&definition.SuccessfulExecutions,
		&definition.FailedExecutions,
		&lastExecutionAt,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&archivedAt,
	)
	if err != nil {
		return nil, err
	}

	definition.AccountID = accountID.String

	if lastExecutionAt.Valid {
		definition.LastExecutionAt = &lastExecutionAt.Time
	}

	if archivedAt.Valid {
		definition.ArchivedAt = &archivedAt.Time
	}

	if len(triggerConfigJSON) > 0 {
		if err := json.Unmarshal(triggerConfigJSON, &definition.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if err := json.Unmarshal(stepsJSON, &definition.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(settingsJSON, &definition.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	return &definition, nil
}
