package trigger_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/persistence/file"
	"github.com/ciroautuori/automato/pkg/protocol"
	"github.com/ciroautuori/automato/pkg/registry"
	"github.com/ciroautuori/automato/pkg/trigger"
	"github.com/ciroautuori/automato/pkg/workflow"
)

type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (*protocol.Result, error) {
	return &protocol.Result{Output: map[string]any{}}, nil
}

type noopFactory struct{}

func (noopFactory) ID() string { return "noop" }

func (noopFactory) Create(_ map[string]any) (protocol.StepExecutor, error) {
	return noopExecutor{}, nil
}

func (noopFactory) Schema() map[string]any { return nil }

func strPtr(s string) *string { return &s }

func newDispatcher(t *testing.T) (*trigger.Dispatcher, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.NewRegistry(logger)
	reg.Register(noopFactory{})

	p := file.NewPersistence(t.TempDir())
	engine := workflow.NewEngine(p, reg, nil, nil, logger, "worker-test")

	return trigger.NewDispatcher(p, engine, logger), p
}

func saveDefinition(t *testing.T, p persistence.Persistence, status models.DefinitionStatus, triggerType models.TriggerType, triggerConfig map[string]any) *models.WorkflowDefinition {
	t.Helper()

	definition := &models.WorkflowDefinition{
		ID:            "def-" + string(triggerType) + "-" + string(status),
		Name:          "Dispatch Target",
		Status:        status,
		Version:       1,
		TriggerType:   triggerType,
		TriggerConfig: triggerConfig,
		Steps: []*models.Step{
			{ID: "a", Type: "noop", Name: "a", OnSuccess: strPtr(models.TerminalStepID), Enabled: true},
		},
		Settings:  models.DefaultSettings(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	require.NoError(t, p.Definitions().Save(t.Context(), definition))

	return definition
}

func TestDispatcher_ManualAdmitted(t *testing.T) {
	d, p := newDispatcher(t)

	definition := saveDefinition(t, p, models.DefinitionStatusActive, models.TriggerTypeManual, nil)

	execution, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeManual,
		TriggeredBy:  "operator",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, "operator", execution.TriggeredBy)
}

func TestDispatcher_RejectsNonTriggerableStatuses(t *testing.T) {
	d, p := newDispatcher(t)

	for _, status := range []models.DefinitionStatus{
		models.DefinitionStatusDraft,
		models.DefinitionStatusPaused,
		models.DefinitionStatusArchived,
	} {
		definition := saveDefinition(t, p, status, models.TriggerTypeManual, nil)

		_, err := d.Dispatch(t.Context(), trigger.RunRequest{
			DefinitionID: definition.ID,
			TriggerType:  models.TriggerTypeManual,
		})
		assert.ErrorIs(t, err, trigger.ErrTriggerRejected, "status %s must reject", status)
		assert.True(t, trigger.IsTriggerRejected(err))
	}
}

func TestDispatcher_EventTypeFilter(t *testing.T) {
	d, p := newDispatcher(t)

	definition := saveDefinition(t, p, models.DefinitionStatusActive, models.TriggerTypeEvent,
		map[string]any{"event_type": "order.created"})

	_, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeEvent,
		EventType:    "order.deleted",
	})
	assert.ErrorIs(t, err, trigger.ErrTriggerRejected)

	execution, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeEvent,
		EventType:    "order.created",
		InputData:    map[string]any{"order_id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", execution.InputData["order_id"])
}

func TestDispatcher_EventWithoutFilterAdmitsAll(t *testing.T) {
	d, p := newDispatcher(t)

	definition := saveDefinition(t, p, models.DefinitionStatusActive, models.TriggerTypeEvent, nil)

	_, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeEvent,
		EventType:    "anything.at.all",
	})
	require.NoError(t, err)
}

func TestDispatcher_WebhookSignature(t *testing.T) {
	d, p := newDispatcher(t)

	definition := saveDefinition(t, p, models.DefinitionStatusActive, models.TriggerTypeWebhook,
		map[string]any{"secret": "s3cret"})

	body := []byte(`{"ping":"pong"}`)

	_, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeWebhook,
		RawBody:      body,
		Signature:    trigger.Sign("wrong-secret", body),
	})
	assert.ErrorIs(t, err, trigger.ErrTriggerRejected)

	_, err = d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeWebhook,
		RawBody:      body,
		Signature:    "not even hex",
	})
	assert.ErrorIs(t, err, trigger.ErrTriggerRejected)

	execution, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeWebhook,
		RawBody:      body,
		Signature:    trigger.Sign("s3cret", body),
	})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeWebhook, execution.TriggerType)
}

func TestDispatcher_WebhookWithoutSecretRejected(t *testing.T) {
	d, p := newDispatcher(t)

	definition := saveDefinition(t, p, models.DefinitionStatusActive, models.TriggerTypeWebhook, nil)

	_, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: definition.ID,
		TriggerType:  models.TriggerTypeWebhook,
		RawBody:      []byte("{}"),
		Signature:    trigger.Sign("", []byte("{}")),
	})
	assert.ErrorIs(t, err, trigger.ErrTriggerRejected)
}

func TestDispatcher_UnknownDefinition(t *testing.T) {
	d, _ := newDispatcher(t)

	_, err := d.Dispatch(t.Context(), trigger.RunRequest{
		DefinitionID: "ghost",
		TriggerType:  models.TriggerTypeManual,
	})
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
}
