// Package web provides the HTTP handlers and request types for the workflow
// management API.
package web

import (
	"github.com/ciroautuori/automato/pkg/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook request body.
const SignatureHeader = "X-Automato-Signature"

// CreateDefinitionRequest is the body for creating a new definition. The
// definition is stored as a draft; steps may be added later via PATCH.
type CreateDefinitionRequest struct {
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description"`
	TriggerType   string         `json:"trigger_type"   validate:"required,oneof=manual scheduled event webhook api"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Steps         []*models.Step `json:"steps"          validate:"omitempty,dive"`
	Settings      *SettingsBody  `json:"settings"`
	AccountID     string         `json:"account_id"`
}

// UpdateDefinitionRequest is the body for editing a draft or paused
// definition. Nil fields are left unchanged.
type UpdateDefinitionRequest struct {
	Name          *string        `json:"name,omitempty"         validate:"omitempty,min=3"`
	Description   *string        `json:"description,omitempty"`
	TriggerType   *string        `json:"trigger_type,omitempty" validate:"omitempty,oneof=manual scheduled event webhook api"`
	TriggerConfig map[string]any `json:"trigger_config,omitempty"`
	Steps         []*models.Step `json:"steps,omitempty"        validate:"omitempty,dive"`
	Settings      *SettingsBody  `json:"settings,omitempty"`
}

// SettingsBody mirrors models.Settings for request bodies.
type SettingsBody struct {
	MaxRetries        int `json:"max_retries"         validate:"min=0"`
	RetryDelaySeconds int `json:"retry_delay_seconds" validate:"min=0"`
	TimeoutSeconds    int `json:"timeout_seconds"     validate:"min=0"`
}

func (b *SettingsBody) toModel() *models.Settings {
	if b == nil {
		return nil
	}

	return &models.Settings{
		MaxRetries:        b.MaxRetries,
		RetryDelaySeconds: b.RetryDelaySeconds,
		TimeoutSeconds:    b.TimeoutSeconds,
	}
}

// CreateScheduleRequest is the body for attaching a cron schedule to a
// scheduled-trigger definition.
type CreateScheduleRequest struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	Timezone       string `json:"timezone"`
}

// CreateRunRequest is the body for starting an execution through the API.
// The trigger type defaults to "api"; "manual" is the only other value the
// run endpoint accepts, the webhook and event paths have their own ingress.
type CreateRunRequest struct {
	TriggerType string         `json:"trigger_type" validate:"omitempty,oneof=api manual"`
	InputData   map[string]any `json:"input_data"`
	TriggeredBy string         `json:"triggered_by"`
}

// CancelExecutionRequest is the body for cancelling a running execution.
type CancelExecutionRequest struct {
	CancelledBy string `json:"cancelled_by"`
}

// ExecutionResponse combines an execution with its step attempt history.
type ExecutionResponse struct {
	Execution *models.WorkflowExecution `json:"execution"`
	StepLogs  []*models.StepLog         `json:"step_logs"`
}
