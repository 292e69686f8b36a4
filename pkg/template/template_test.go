package template

import (
	"testing"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID:  "exec-1",
		DefinitionID: "def-1",
		StepID:       "step-1",
		TriggerType:  models.TriggerTypeWebhook,
		InputData:    map[string]any{"user": "ada"},
		StepResults: map[string]any{
			"fetch": map[string]any{"count": 3},
		},
	}
}

func TestRenderWithContext_InputData(t *testing.T) {
	result, err := RenderWithContext("hello {{.input_data.user}}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "hello ada", result)
}

func TestRenderWithContext_StepResults(t *testing.T) {
	result, err := RenderWithContext("count={{.step_results.fetch.count}}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "count=3", result)
}

func TestRenderWithContext_ExecutionIdentity(t *testing.T) {
	result, err := RenderWithContext("{{.execution.id}}/{{.execution.definition_id}}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "exec-1/def-1", result)
}

func TestRender_JSONOutput(t *testing.T) {
	result, err := RenderWithContext(`{"user": "{{.input_data.user}}"}`, testContext())
	require.NoError(t, err)

	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ada", decoded["user"])
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := RenderWithContext("{{.broken", testContext())
	require.Error(t, err)
}

func TestRenderString(t *testing.T) {
	result, err := RenderString(`{"n": {{.step_results.fetch.count}}}`, testContext())
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 3}`, result)
}
