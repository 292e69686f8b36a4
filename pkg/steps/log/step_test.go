package log

import (
	"log/slog"
	"testing"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_Execute(t *testing.T) {
	step := NewStep(map[string]any{"message": "processing {{.input_data.user}}"})

	executionCtx := models.ExecutionContext{
		ExecutionID: "exec-1",
		InputData:   map[string]any{"user": "ada"},
	}

	result, err := step.Execute(t.Context(), executionCtx, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "processing ada", result.Output["message"])
}

func TestStep_Execute_BadTemplate(t *testing.T) {
	step := NewStep(map[string]any{"message": "{{.broken"})

	_, err := step.Execute(t.Context(), models.ExecutionContext{}, slog.Default())
	require.Error(t, err)
}

func TestFactory(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, "log", factory.ID())

	executor, err := factory.Create(nil)
	require.NoError(t, err)
	assert.NotNil(t, executor)
	assert.NotNil(t, factory.Schema())
}
