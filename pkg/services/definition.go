package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/registry"
)

// Definition manages the workflow definition lifecycle: draft, active,
// paused, archived. Activation is the validation gate; drafts accept any
// step graph so authors can save work in progress.
type Definition struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	logger      *slog.Logger
}

// NewDefinition creates a new definition service.
func NewDefinition(persistence persistence.Persistence, registry *registry.Registry, logger *slog.Logger) *Definition {
	return &Definition{
		persistence: persistence,
		registry:    registry,
		logger:      logger.With("module", "definition_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateRequest contains the fields for creating a definition.
type CreateRequest struct {
	Name          string `validate:"required,min=3"`
	Description   string
	TriggerType   models.TriggerType `validate:"required"`
	TriggerConfig map[string]any
	Steps         []*models.Step
	Settings      *models.Settings
	AccountID     string
}

// Create stores a new definition as a draft at version 1.
func (s *Definition) Create(ctx context.Context, req CreateRequest) (*models.WorkflowDefinition, error) {
	if req.Name == "" {
		return nil, ErrNameRequired
	}

	if !validTriggerType(req.TriggerType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTriggerType, req.TriggerType)
	}

	settings := models.DefaultSettings()
	if req.Settings != nil {
		settings = req.Settings.Normalize()
	}

	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:            uuid.New().String(),
		AccountID:     req.AccountID,
		Name:          req.Name,
		Description:   req.Description,
		Status:        models.DefinitionStatusDraft,
		Version:       1,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Steps:         req.Steps,
		Settings:      settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	s.logger.InfoContext(ctx, "definition created", "definition_id", definition.ID, "name", definition.Name)

	return definition, nil
}

// UpdateRequest contains the fields for updating a definition. Nil fields
// are left unchanged.
type UpdateRequest struct {
	Name          *string
	Description   *string
	TriggerType   *models.TriggerType
	TriggerConfig map[string]any
	Steps         []*models.Step
	Settings      *models.Settings
}

// Update edits a draft or paused definition. Changing the steps or the
// trigger bumps the version; running executions keep their snapshot and are
// unaffected. Active and archived definitions reject edits.
func (s *Definition) Update(ctx context.Context, id string, req UpdateRequest) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch definition.Status {
	case models.DefinitionStatusDraft, models.DefinitionStatusPaused:
	case models.DefinitionStatusArchived:
		return nil, ErrArchived
	default:
		return nil, ErrNotEditable
	}

	versionBump := false

	if req.Name != nil {
		if *req.Name == "" {
			return nil, ErrNameRequired
		}

		definition.Name = *req.Name
	}

	if req.Description != nil {
		definition.Description = *req.Description
	}

	if req.TriggerType != nil {
		if !validTriggerType(*req.TriggerType) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTriggerType, *req.TriggerType)
		}

		if *req.TriggerType != definition.TriggerType {
			versionBump = true
		}

		definition.TriggerType = *req.TriggerType
	}

	if req.TriggerConfig != nil {
		definition.TriggerConfig = req.TriggerConfig
		versionBump = true
	}

	if req.Steps != nil {
		definition.Steps = req.Steps
		versionBump = true
	}

	if req.Settings != nil {
		definition.Settings = req.Settings.Normalize()
	}

	if versionBump {
		definition.Version++
	}

	definition.UpdatedAt = time.Now().UTC()

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return definition, nil
}

// Activate validates the step graph and every step configuration, then makes
// the definition triggerable. Drafts and paused definitions can activate.
func (s *Definition) Activate(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch definition.Status {
	case models.DefinitionStatusDraft, models.DefinitionStatusPaused:
	case models.DefinitionStatusActive:
		return definition, nil
	default:
		return nil, ErrArchived
	}

	if len(definition.Steps) == 0 {
		return nil, NewValidationError("Activate", nil, ErrStepsRequired)
	}

	if err := definition.Snapshot().Validate(); err != nil {
		return nil, NewValidationError("Activate", []string{err.Error()}, ErrDefinitionValidation)
	}

	details := s.validateStepConfigs(definition)
	if len(details) > 0 {
		return nil, NewValidationError("Activate", details, ErrDefinitionValidation)
	}

	definition.Status = models.DefinitionStatusActive
	definition.UpdatedAt = time.Now().UTC()

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to activate definition: %w", err)
	}

	s.logger.InfoContext(ctx, "definition activated", "definition_id", definition.ID, "version", definition.Version)

	return definition, nil
}

// Pause blocks future triggers; running executions continue against their
// snapshots.
func (s *Definition) Pause(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition.Status != models.DefinitionStatusActive {
		return nil, ErrNotActive
	}

	definition.Status = models.DefinitionStatusPaused
	definition.UpdatedAt = time.Now().UTC()

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to pause definition: %w", err)
	}

	return definition, nil
}

// Archive soft-deletes the definition. Archived definitions are permanently
// blocked from triggering but their history remains queryable.
func (s *Definition) Archive(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition.Status == models.DefinitionStatusArchived {
		return definition, nil
	}

	now := time.Now().UTC()
	definition.Status = models.DefinitionStatusArchived
	definition.ArchivedAt = &now
	definition.UpdatedAt = now

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to archive definition: %w", err)
	}

	s.logger.InfoContext(ctx, "definition archived", "definition_id", definition.ID)

	return definition, nil
}

// Get fetches one definition by ID.
func (s *Definition) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().GetByID(ctx, id)
}

// List fetches all definitions.
func (s *Definition) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().GetAll(ctx)
}

// RecordExecutionResult bumps the definition counters after an execution
// reaches a terminal state.
func (s *Definition) RecordExecutionResult(ctx context.Context, id string, success bool, at time.Time) error {
	return s.persistence.Definitions().IncrementExecutionStats(ctx, id, success, at)
}

// CreateSchedule attaches a cron schedule to a scheduled-trigger definition.
func (s *Definition) CreateSchedule(ctx context.Context, definitionID, cronExpression, timezone string) (*models.Schedule, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	if definition.TriggerType != models.TriggerTypeScheduled {
		return nil, ErrScheduleForbidden
	}

	schedule, err := models.NewSchedule(uuid.New().String(), definitionID, cronExpression, timezone)
	if err != nil {
		return nil, NewValidationError("CreateSchedule", []string{err.Error()}, ErrInvalidRequest)
	}

	err = s.persistence.Schedules().Create(ctx, schedule)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule created",
		"schedule_id", schedule.ID,
		"definition_id", definitionID,
		"cron", cronExpression,
		"next_run_at", schedule.NextRunAt)

	return schedule, nil
}

// ListSchedules fetches the schedules attached to a definition.
func (s *Definition) ListSchedules(ctx context.Context, definitionID string) ([]*models.Schedule, error) {
	if _, err := s.persistence.Definitions().GetByID(ctx, definitionID); err != nil {
		return nil, err
	}

	return s.persistence.Schedules().ListByDefinition(ctx, definitionID)
}

func (s *Definition) validateStepConfigs(definition *models.WorkflowDefinition) []string {
	var details []string

	for _, step := range definition.Steps {
		if !slices.Contains(s.registry.StepTypes(), step.Type) {
			details = append(details, fmt.Sprintf("step %q: unknown step type %q", step.ID, step.Type))

			continue
		}

		if err := s.registry.ValidateConfig(step.Type, step.Config); err != nil {
			details = append(details, fmt.Sprintf("step %q: %v", step.ID, err))
		}
	}

	return details
}

func validTriggerType(t models.TriggerType) bool {
	switch t {
	case models.TriggerTypeManual, models.TriggerTypeScheduled, models.TriggerTypeEvent,
		models.TriggerTypeWebhook, models.TriggerTypeAPI:
		return true
	default:
		return false
	}
}
