package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence/file"
	"github.com/ciroautuori/automato/pkg/registry"
	"github.com/ciroautuori/automato/pkg/services"
	"github.com/ciroautuori/automato/pkg/steps/log"
	"github.com/ciroautuori/automato/pkg/trigger"
	"github.com/ciroautuori/automato/pkg/web"
	"github.com/ciroautuori/automato/pkg/workflow"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.Definition) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.NewRegistry(logger)
	reg.Register(log.NewFactory())

	p := file.NewPersistence(t.TempDir())
	definitionService := services.NewDefinition(p, reg, logger)
	engine := workflow.NewEngine(p, reg, nil, nil, logger, "worker-test")
	dispatcher := trigger.NewDispatcher(p, engine, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(definitionService, dispatcher, engine, p, validate)

	app := fiber.New()

	d := app.Group("/definitions")
	d.Get("/", handlers.ListDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Get("/:id", handlers.GetDefinition)
	d.Patch("/:id", handlers.UpdateDefinition)
	d.Post("/:id/activate", handlers.ActivateDefinition)
	d.Post("/:id/pause", handlers.PauseDefinition)
	d.Post("/:id/archive", handlers.ArchiveDefinition)
	d.Post("/:id/schedules", handlers.CreateSchedule)
	d.Get("/:id/schedules", handlers.ListSchedules)
	d.Post("/:id/runs", handlers.CreateRun)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Post("/webhooks/:definition_id", handlers.HandleWebhook)
	app.Get("/health", handlers.HealthCheck)

	return app, definitionService
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer

	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, payload
}

func logSteps() []*models.Step {
	return []*models.Step{
		{
			ID:        "say-hello",
			Type:      "log",
			Name:      "Say hello",
			Config:    map[string]any{"message": "hello"},
			OnSuccess: strPtr(models.TerminalStepID),
			Enabled:   true,
		},
	}
}

func strPtr(s string) *string { return &s }

func TestAPIHandlers_CreateDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateDefinitionRequest{
				Name:        "Welcome Flow",
				Description: "Greets new users",
				TriggerType: "manual",
				Steps:       logSteps(),
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing name",
			requestBody: web.CreateDefinitionRequest{
				TriggerType: "manual",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "name too short",
			requestBody: web.CreateDefinitionRequest{
				Name:        "ab",
				TriggerType: "manual",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown trigger type",
			requestBody: web.CreateDefinitionRequest{
				Name:        "Welcome Flow",
				TriggerType: "telepathy",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				var definition models.WorkflowDefinition
				require.NoError(t, json.Unmarshal(payload, &definition))
				assert.Equal(t, models.DefinitionStatusDraft, definition.Status)
				assert.Equal(t, int64(1), definition.Version)
				assert.NotEmpty(t, definition.ID)
			}
		})
	}
}

func TestAPIHandlers_Lifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:        "Welcome Flow",
		TriggerType: "manual",
		Steps:       logSteps(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	// Pausing a draft is a lifecycle conflict.
	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, payload = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(payload, &definition))
	assert.Equal(t, models.DefinitionStatusActive, definition.Status)

	// Active definitions reject edits.
	resp, _ = doJSON(t, app, http.MethodPatch, "/definitions/"+definition.ID, web.UpdateDefinitionRequest{
		Name: strPtr("New Name"),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/archive", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Activation after archive is rejected for good.
	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_ActivateValidatesGraph(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	steps := logSteps()
	steps[0].OnSuccess = strPtr("ghost")

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:        "Broken Flow",
		TriggerType: "manual",
		Steps:       steps,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The definition stays a draft.
	resp, payload = doJSON(t, app, http.MethodGet, "/definitions/"+definition.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(payload, &definition))
	assert.Equal(t, models.DefinitionStatusDraft, definition.Status)
}

func TestAPIHandlers_CreateRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:        "Welcome Flow",
		TriggerType: "manual",
		Steps:       logSteps(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	// Draft definitions are not triggerable.
	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/runs", web.CreateRunRequest{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/runs", web.CreateRunRequest{
		TriggerType: "manual",
		InputData:   map[string]any{"user": "ada"},
		TriggeredBy: "tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(payload, &execution))
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, models.TriggerTypeManual, execution.TriggerType)
	assert.Equal(t, "tester", execution.TriggeredBy)

	// Reserved trigger types cannot be smuggled in through the run
	// endpoint; the webhook and event ingresses have their own admission.
	for _, reserved := range []string{"webhook", "event", "scheduled"} {
		resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/runs", web.CreateRunRequest{
			TriggerType: reserved,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "trigger_type %q must be rejected", reserved)
	}

	// Unknown definition.
	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/does-not-exist/runs", web.CreateRunRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetAndCancelExecution(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:        "Welcome Flow",
		TriggerType: "manual",
		Steps:       logSteps(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/runs", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(payload, &execution))

	resp, payload = doJSON(t, app, http.MethodGet, "/executions/"+execution.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execResp web.ExecutionResponse
	require.NoError(t, json.Unmarshal(payload, &execResp))
	assert.Equal(t, execution.ID, execResp.Execution.ID)

	resp, payload = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel", web.CancelExecutionRequest{
		CancelledBy: "operator",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(payload, &execution))
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)

	// A second cancel is a conflict, the execution is already terminal.
	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/executions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Schedules(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:          "Nightly Report",
		TriggerType:   "scheduled",
		TriggerConfig: map[string]any{"cron_expression": "0 3 * * *"},
		Steps:         logSteps(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	resp, payload = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/schedules", web.CreateScheduleRequest{
		CronExpression: "0 3 * * *",
		Timezone:       "Europe/Rome",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var schedule models.Schedule
	require.NoError(t, json.Unmarshal(payload, &schedule))
	assert.Equal(t, definition.ID, schedule.DefinitionID)
	assert.False(t, schedule.NextRunAt.IsZero())

	// Same expression twice is a conflict.
	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/schedules", web.CreateScheduleRequest{
		CronExpression: "0 3 * * *",
		Timezone:       "Europe/Rome",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A malformed expression is a validation error.
	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/schedules", web.CreateScheduleRequest{
		CronExpression: "not a cron",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload = doJSON(t, app, http.MethodGet, "/definitions/"+definition.ID+"/schedules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Schedules []*models.Schedule `json:"schedules"`
	}
	require.NoError(t, json.Unmarshal(payload, &listResp))
	assert.Len(t, listResp.Schedules, 1)
}

func TestAPIHandlers_SchedulesRequireScheduledTrigger(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:        "Manual Flow",
		TriggerType: "manual",
		Steps:       logSteps(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/schedules", web.CreateScheduleRequest{
		CronExpression: "0 3 * * *",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_Webhook(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	const secret = "wh-secret"

	resp, payload := doJSON(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:          "Order Hook",
		TriggerType:   "webhook",
		TriggerConfig: map[string]any{"secret": secret},
		Steps:         logSteps(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(payload, &definition))

	resp, _ = doJSON(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := []byte(`{"order_id":"o-42"}`)

	post := func(signature string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+definition.ID, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		if signature != "" {
			req.Header.Set(web.SignatureHeader, signature)
		}

		resp, err := app.Test(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		return resp
	}

	// Missing and wrong signatures are swallowed with 204.
	assert.Equal(t, http.StatusNoContent, post("").StatusCode)
	assert.Equal(t, http.StatusNoContent, post("deadbeef").StatusCode)

	// Unknown definitions look the same as rejections from outside.
	reqUnknown := httptest.NewRequest(http.MethodPost, "/webhooks/ghost", bytes.NewReader(body))
	respUnknown, err := app.Test(reqUnknown)
	require.NoError(t, err)
	require.NoError(t, respUnknown.Body.Close())
	assert.Equal(t, http.StatusNoContent, respUnknown.StatusCode)

	assert.Equal(t, http.StatusAccepted, post(trigger.Sign(secret, body)).StatusCode)
}

func TestAPIHandlers_Health(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
