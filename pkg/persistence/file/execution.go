package file

import (
	"context"
	"sort"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository stores workflow executions as JSON files with an
// optimistic version check on update.
type ExecutionRepository struct {
	persistence *Persistence
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution.Version = 1

	return r.persistence.writeRecord(executionsDir, execution.ID, execution)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	execution := &models.WorkflowExecution{}

	found, err := r.persistence.readRecord(executionsDir, id, execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	stored := &models.WorkflowExecution{}

	found, err := r.persistence.readRecord(executionsDir, execution.ID, stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrExecutionNotFound
	}

	if stored.Version != execution.Version {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrConcurrencyConflict)
	}

	execution.Version++

	return r.persistence.writeRecord(executionsDir, execution.ID, execution)
}

func (r *ExecutionRepository) ListResumable(ctx context.Context, now time.Time, staleBefore time.Time) ([]*models.WorkflowExecution, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	resumable := make([]*models.WorkflowExecution, 0)

	err := readAll(r.persistence, executionsDir, func(execution *models.WorkflowExecution) {
		switch execution.Status {
		case models.ExecutionStatusRetrying:
			if execution.RetryDue(now) {
				resumable = append(resumable, execution)
			}
		case models.ExecutionStatusRunning, models.ExecutionStatusPending:
			if execution.UpdatedAt.Before(staleBefore) {
				resumable = append(resumable, execution)
			}
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(resumable, func(i, j int) bool {
		return resumable[i].UpdatedAt.Before(resumable[j].UpdatedAt)
	})

	return resumable, nil
}
