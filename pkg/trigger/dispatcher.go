// Package trigger admits run requests and forwards them to the execution
// engine. Every trigger path (manual, scheduled, event, webhook, api) goes
// through the same dispatcher.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/workflow"
)

// ErrTriggerRejected is returned when a run request fails admission: the
// definition is not triggerable, the event-type filter does not match, or
// the webhook signature is invalid.
var ErrTriggerRejected = errors.New("trigger rejected")

// IsTriggerRejected checks whether an error is an admission rejection.
func IsTriggerRejected(err error) bool {
	return errors.Is(err, ErrTriggerRejected)
}

// RunRequest asks for one execution of a definition.
type RunRequest struct {
	DefinitionID string
	TriggerType  models.TriggerType
	InputData    map[string]any
	TriggeredBy  string
	ScheduleID   string

	// EventType is matched against the definition's event-type filter for
	// event triggers.
	EventType string

	// Signature and RawBody authenticate webhook triggers. Signature is the
	// hex HMAC-SHA256 of RawBody under the definition's shared secret.
	Signature string
	RawBody   []byte
}

// Dispatcher validates run requests against the target definition's trigger
// configuration and starts admitted executions.
type Dispatcher struct {
	persistence persistence.Persistence
	engine      *workflow.Engine
	logger      *slog.Logger
}

// NewDispatcher creates a trigger dispatcher.
func NewDispatcher(persistence persistence.Persistence, engine *workflow.Engine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		persistence: persistence,
		engine:      engine,
		logger:      logger.With("module", "trigger_dispatcher"),
	}
}

// Dispatch admits a run request and starts an execution against a snapshot
// taken at this instant. Rejections are logged and returned as
// ErrTriggerRejected; callers decide whether to surface them.
func (d *Dispatcher) Dispatch(ctx context.Context, req RunRequest) (*models.WorkflowExecution, error) {
	definition, err := d.persistence.Definitions().GetByID(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}

	if !definition.Triggerable() {
		d.logger.WarnContext(ctx, "trigger rejected: definition not triggerable",
			"definition_id", definition.ID,
			"status", definition.Status,
			"trigger_type", req.TriggerType)

		return nil, fmt.Errorf("definition %s is %s: %w", definition.ID, definition.Status, ErrTriggerRejected)
	}

	if err := d.admit(ctx, definition, req); err != nil {
		return nil, err
	}

	execution, err := d.engine.Start(ctx, definition, req.TriggerType, req.TriggeredBy, req.ScheduleID, req.InputData)
	if err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "run request admitted",
		"definition_id", definition.ID,
		"execution_id", execution.ID,
		"trigger_type", req.TriggerType)

	return execution, nil
}

func (d *Dispatcher) admit(ctx context.Context, definition *models.WorkflowDefinition, req RunRequest) error {
	switch req.TriggerType {
	case models.TriggerTypeEvent:
		filter := definition.EventTypeFilter()
		if filter != "" && filter != req.EventType {
			d.logger.WarnContext(ctx, "trigger rejected: event type mismatch",
				"definition_id", definition.ID,
				"want", filter,
				"got", req.EventType)

			return fmt.Errorf("event type %q does not match filter %q: %w", req.EventType, filter, ErrTriggerRejected)
		}
	case models.TriggerTypeWebhook:
		secret := definition.WebhookSecret()
		if secret == "" {
			d.logger.WarnContext(ctx, "trigger rejected: webhook definition has no secret",
				"definition_id", definition.ID)

			return fmt.Errorf("webhook definition %s has no shared secret: %w", definition.ID, ErrTriggerRejected)
		}

		if !validSignature(secret, req.RawBody, req.Signature) {
			d.logger.WarnContext(ctx, "trigger rejected: webhook signature mismatch",
				"definition_id", definition.ID)

			return fmt.Errorf("webhook signature mismatch: %w", ErrTriggerRejected)
		}
	case models.TriggerTypeManual, models.TriggerTypeScheduled, models.TriggerTypeAPI:
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 signature webhook producers must send.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(mac.Sum(nil), want)
}
