package file

import (
	"context"
	"sort"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

const stepLogsDir = "steplogs"

// StepLogRepository stores step attempt logs as JSON files. Terminal logs
// are immutable.
type StepLogRepository struct {
	persistence *Persistence
}

func (r *StepLogRepository) Append(ctx context.Context, stepLog *models.StepLog) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.persistence.writeRecord(stepLogsDir, stepLog.ID, stepLog)
}

func (r *StepLogRepository) Update(ctx context.Context, stepLog *models.StepLog) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	stored := &models.StepLog{}

	found, err := r.persistence.readRecord(stepLogsDir, stepLog.ID, stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrStepLogNotFound
	}

	if stored.IsTerminal() {
		return persistence.ErrStepLogTerminal
	}

	return r.persistence.writeRecord(stepLogsDir, stepLog.ID, stepLog)
}

func (r *StepLogRepository) GetByAttempt(ctx context.Context, executionID, stepID string, attempt int) (*models.StepLog, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	var match *models.StepLog

	err := readAll(r.persistence, stepLogsDir, func(stepLog *models.StepLog) {
		if stepLog.ExecutionID == executionID && stepLog.StepID == stepID && stepLog.Attempt == attempt {
			match = stepLog
		}
	})
	if err != nil {
		return nil, err
	}

	if match == nil {
		return nil, persistence.ErrStepLogNotFound
	}

	return match, nil
}

func (r *StepLogRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.StepLog, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	logs := make([]*models.StepLog, 0)

	err := readAll(r.persistence, stepLogsDir, func(stepLog *models.StepLog) {
		if stepLog.ExecutionID == executionID {
			logs = append(logs, stepLog)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].StartedAt.Before(logs[j].StartedAt)
	})

	return logs, nil
}
