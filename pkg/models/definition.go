// Package models defines the core domain models for workflow automation.
package models

import "time"

// DefinitionStatus represents the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"    // Editable, not triggerable
	DefinitionStatusActive   DefinitionStatus = "active"   // Triggerable and schedulable
	DefinitionStatusPaused   DefinitionStatus = "paused"   // Future triggers blocked, running executions unaffected
	DefinitionStatusArchived DefinitionStatus = "archived" // Soft deleted, permanently blocked
)

// TriggerType classifies how an execution was started.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeEvent     TriggerType = "event"
	TriggerTypeWebhook   TriggerType = "webhook"
	TriggerTypeAPI       TriggerType = "api"
)

// WorkflowDefinition is a named, versioned workflow template. Definitions are
// never hard-deleted; archiving is the terminal lifecycle state.
type WorkflowDefinition struct {
	ID                   string           `json:"id"`
	AccountID            string           `json:"account_id"`
	Name                 string           `json:"name"        validate:"required,min=3"`
	Description          string           `json:"description"`
	Status               DefinitionStatus `json:"status"      validate:"required"`
	Version              int              `json:"version"`
	TriggerType          TriggerType      `json:"trigger_type" validate:"required"`
	TriggerConfig        map[string]any   `json:"trigger_config,omitempty"`
	Steps                []*Step          `json:"steps"`
	Settings             Settings         `json:"settings"`
	TotalExecutions      int64            `json:"total_executions"`
	SuccessfulExecutions int64            `json:"successful_executions"`
	FailedExecutions     int64            `json:"failed_executions"`
	LastExecutionAt      *time.Time       `json:"last_execution_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	ArchivedAt           *time.Time       `json:"archived_at,omitempty"`
}

// Triggerable reports whether the definition currently admits new executions.
func (d *WorkflowDefinition) Triggerable() bool {
	return d.Status == DefinitionStatusActive && d.ArchivedAt == nil
}

// StepByID finds a step in the definition by its identifier.
func (d *WorkflowDefinition) StepByID(stepID string) (*Step, bool) {
	for _, step := range d.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// Snapshot captures an immutable copy of the definition's steps and settings.
// In-flight executions run against the snapshot, insulated from later edits.
func (d *WorkflowDefinition) Snapshot() *ExecutionSnapshot {
	steps := make([]*Step, len(d.Steps))
	for i, step := range d.Steps {
		cloned := *step
		steps[i] = &cloned
	}

	return &ExecutionSnapshot{
		DefinitionID: d.ID,
		Version:      d.Version,
		Steps:        steps,
		Settings:     d.Settings,
	}
}

// EventTypeFilter returns the event-type admission filter for event-triggered
// definitions, or empty when no filter is configured.
func (d *WorkflowDefinition) EventTypeFilter() string {
	if d.TriggerConfig == nil {
		return ""
	}

	filter, _ := d.TriggerConfig["event_type"].(string)

	return filter
}

// WebhookSecret returns the shared secret used to authenticate webhook
// deliveries for webhook-triggered definitions.
func (d *WorkflowDefinition) WebhookSecret() string {
	if d.TriggerConfig == nil {
		return ""
	}

	secret, _ := d.TriggerConfig["secret"].(string)

	return secret
}
