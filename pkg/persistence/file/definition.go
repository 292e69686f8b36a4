package file

import (
	"context"
	"sort"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

const definitionsDir = "definitions"

// DefinitionRepository stores workflow definitions as JSON files.
type DefinitionRepository struct {
	persistence *Persistence
}

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	definitions := make([]*models.WorkflowDefinition, 0)

	err := readAll(r.persistence, definitionsDir, func(definition *models.WorkflowDefinition) {
		definitions = append(definitions, definition)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.After(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	return r.getByID(id)
}

func (r *DefinitionRepository) getByID(id string) (*models.WorkflowDefinition, error) {
	definition := &models.WorkflowDefinition{}

	found, err := r.persistence.readRecord(definitionsDir, id, definition)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrDefinitionNotFound
	}

	return definition, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.persistence.writeRecord(definitionsDir, definition.ID, definition)
}

func (r *DefinitionRepository) IncrementExecutionStats(ctx context.Context, id string, success bool, at time.Time) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	definition, err := r.getByID(id)
	if err != nil {
		return err
	}

	definition.TotalExecutions++
	if success {
		definition.SuccessfulExecutions++
	} else {
		definition.FailedExecutions++
	}

	definition.LastExecutionAt = &at
	definition.UpdatedAt = time.Now().UTC()

	return r.persistence.writeRecord(definitionsDir, id, definition)
}
