package delay

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStep_InvalidDuration(t *testing.T) {
	_, err := NewStep(map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = NewStep(map[string]any{"seconds": float64(-1)})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestStep_Execute(t *testing.T) {
	step, err := NewStep(map[string]any{"seconds": 0.01})
	require.NoError(t, err)

	result, err := step.Execute(t.Context(), models.ExecutionContext{}, slog.Default())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, result.Output["delayed_seconds"], 0.001)
}

func TestStep_Execute_DeadlineCutsShort(t *testing.T) {
	step, err := NewStep(map[string]any{"seconds": float64(10)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = step.Execute(ctx, models.ExecutionContext{}, slog.Default())

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFactory(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, "delay", factory.ID())

	executor, err := factory.Create(map[string]any{"seconds": float64(1)})
	require.NoError(t, err)
	assert.NotNil(t, executor)
}
