package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *ExecutionSnapshot {
	return &ExecutionSnapshot{
		DefinitionID: "def-1",
		Version:      1,
		Steps: []*Step{
			{ID: "a", Type: "log", Name: "A", OnSuccess: strPtr("b"), Enabled: true},
			{ID: "b", Type: "log", Name: "B", Enabled: true},
		},
		Settings: Settings{MaxRetries: 2, RetryDelaySeconds: 5, TimeoutSeconds: 30},
	}
}

func TestNewWorkflowExecution(t *testing.T) {
	now := time.Now().UTC()
	execution := NewWorkflowExecution("exec-1", testSnapshot(), TriggerTypeManual, "user-1", map[string]any{"k": "v"}, now)

	assert.Equal(t, ExecutionStatusPending, execution.Status)
	assert.Equal(t, "a", execution.CurrentStepID)
	assert.Equal(t, 1, execution.CurrentAttempt)
	assert.Equal(t, 2, execution.TotalSteps)
	assert.Equal(t, 2, execution.MaxRetries)
	assert.False(t, execution.IsTerminal())
}

func TestWorkflowExecution_Transitions(t *testing.T) {
	now := time.Now().UTC()
	execution := NewWorkflowExecution("exec-1", testSnapshot(), TriggerTypeAPI, "", nil, now)

	execution.MarkRunning(now)
	assert.Equal(t, ExecutionStatusRunning, execution.Status)
	assert.True(t, execution.CanCancel())

	execution.MarkRetrying(now.Add(5*time.Second), now)
	assert.Equal(t, ExecutionStatusRetrying, execution.Status)
	assert.Equal(t, 1, execution.RetryCount)
	assert.Equal(t, 2, execution.CurrentAttempt)
	assert.False(t, execution.RetryDue(now))
	assert.True(t, execution.RetryDue(now.Add(6*time.Second)))

	execution.MarkCompleted(map[string]any{"done": true}, now)
	assert.True(t, execution.IsTerminal())
	assert.False(t, execution.CanCancel())
	assert.NotNil(t, execution.CompletedAt)
}

func TestWorkflowExecution_AdvanceTo(t *testing.T) {
	now := time.Now().UTC()
	execution := NewWorkflowExecution("exec-1", testSnapshot(), TriggerTypeManual, "", nil, now)

	execution.AdvanceTo("b", now)

	assert.Equal(t, "b", execution.CurrentStepID)
	assert.Equal(t, 1, execution.CurrentStepIndex)
	assert.Equal(t, 1, execution.CurrentAttempt)
	assert.Nil(t, execution.NextRetryAt)
}

func TestWorkflowExecution_AdvanceTo_RevisitContinuesAttemptNumbering(t *testing.T) {
	now := time.Now().UTC()
	execution := NewWorkflowExecution("exec-1", testSnapshot(), TriggerTypeManual, "", nil, now)

	// a -> b -> a: the second visit to "a" must not reuse attempt 1, or its
	// log would collide with the first visit's recorded outcome.
	execution.AdvanceTo("b", now)
	execution.AdvanceTo("a", now)

	assert.Equal(t, "a", execution.CurrentStepID)
	assert.Equal(t, 2, execution.CurrentAttempt)

	// Retries on the revisited step keep counting from there.
	execution.MarkRetrying(now.Add(time.Second), now)
	assert.Equal(t, 3, execution.CurrentAttempt)

	execution.AdvanceTo("b", now)
	assert.Equal(t, 2, execution.CurrentAttempt)
}

func TestWorkflowExecution_CurrentStep(t *testing.T) {
	now := time.Now().UTC()
	execution := NewWorkflowExecution("exec-1", testSnapshot(), TriggerTypeManual, "", nil, now)

	step, err := execution.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "a", step.ID)

	execution.CurrentStepID = "ghost"
	_, err = execution.CurrentStep()
	require.Error(t, err)
}

func TestWorkflowExecution_FailedAndCancelledAreDistinct(t *testing.T) {
	now := time.Now().UTC()

	failed := NewWorkflowExecution("exec-1", testSnapshot(), TriggerTypeManual, "", nil, now)
	failed.MarkFailed("boom", now)

	cancelled := NewWorkflowExecution("exec-2", testSnapshot(), TriggerTypeManual, "", nil, now)
	cancelled.MarkCancelled(now)

	assert.Equal(t, ExecutionStatusFailed, failed.Status)
	assert.Equal(t, ExecutionStatusCancelled, cancelled.Status)
	assert.NotEqual(t, failed.Status, cancelled.Status)
	assert.Equal(t, "boom", failed.ErrorMessage)
}

func TestSettings_RetryDelay(t *testing.T) {
	fixed := Settings{RetryDelaySeconds: 10, BackoffStrategy: BackoffFixed}
	assert.Equal(t, 10*time.Second, fixed.RetryDelay(0))
	assert.Equal(t, 10*time.Second, fixed.RetryDelay(5))

	exponential := Settings{RetryDelaySeconds: 10, BackoffStrategy: BackoffExponential}
	assert.Equal(t, 10*time.Second, exponential.RetryDelay(0))
	assert.Equal(t, 20*time.Second, exponential.RetryDelay(1))
	assert.Equal(t, 40*time.Second, exponential.RetryDelay(2))

	// The exponential curve is capped.
	assert.Equal(t, time.Hour, exponential.RetryDelay(30))
}

func TestSettings_Normalize(t *testing.T) {
	settings := Settings{}.Normalize()

	assert.Equal(t, 30, settings.RetryDelaySeconds)
	assert.Equal(t, 60, settings.TimeoutSeconds)
	assert.Equal(t, BackoffFixed, settings.BackoffStrategy)
	assert.Equal(t, 60*time.Second, settings.StepTimeout())
}
