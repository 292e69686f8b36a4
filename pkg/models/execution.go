package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the state of a workflow run.
//
// pending -> running -> {completed, failed, cancelled} | retrying
// retrying -> running once the backoff elapses, or -> failed when the retry
// budget is exhausted.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusRetrying  ExecutionStatus = "retrying"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is one run of a workflow definition. It carries an
// immutable snapshot of the definition taken at start and is mutated only by
// the execution engine, serialized through the Version optimistic lock.
type WorkflowExecution struct {
	ID           string             `json:"id"`
	DefinitionID string             `json:"definition_id"`
	Snapshot     *ExecutionSnapshot `json:"snapshot"`

	Status           ExecutionStatus `json:"status"`
	CurrentStepID    string          `json:"current_step_id"`
	CurrentStepIndex int             `json:"current_step_index"`
	// CurrentAttempt is the 1-based attempt number for the current step.
	// Step logs are keyed by (execution, step, attempt) so a crash-recovery
	// sweep can replay a recorded outcome instead of re-invoking the
	// executor. Attempt numbers never repeat for a step within one
	// execution, even when a routing edge revisits it.
	CurrentAttempt int `json:"current_attempt"`
	// StepVisits tracks the highest attempt number handed out per step, so
	// a loop edge opens a fresh attempt instead of colliding with an
	// earlier visit's log.
	StepVisits map[string]int `json:"step_visits,omitempty"`
	TotalSteps int            `json:"total_steps"`

	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	NextRetryAt *time.Time  `json:"next_retry_at,omitempty"`
	TriggerType TriggerType `json:"trigger_type"`
	TriggeredBy string      `json:"triggered_by,omitempty"`
	ScheduleID  string      `json:"schedule_id,omitempty"`

	InputData    map[string]any `json:"input_data,omitempty"`
	StepResults  map[string]any `json:"step_results,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// Version is the optimistic concurrency column; every persisted
	// mutation increments it.
	Version int64 `json:"version"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewWorkflowExecution creates a pending execution bound to a snapshot.
func NewWorkflowExecution(id string, snapshot *ExecutionSnapshot, triggerType TriggerType, triggeredBy string, input map[string]any, now time.Time) *WorkflowExecution {
	visits := make(map[string]int)
	if first := snapshot.FirstStepID(); first != "" {
		visits[first] = 1
	}

	return &WorkflowExecution{
		ID:               id,
		DefinitionID:     snapshot.DefinitionID,
		Snapshot:         snapshot,
		Status:           ExecutionStatusPending,
		CurrentStepID:    snapshot.FirstStepID(),
		CurrentStepIndex: 0,
		CurrentAttempt:   1,
		StepVisits:       visits,
		TotalSteps:       len(snapshot.Steps),
		MaxRetries:       snapshot.Settings.MaxRetries,
		TriggerType:      triggerType,
		TriggeredBy:      triggeredBy,
		InputData:        input,
		StepResults:      make(map[string]any),
		StartedAt:        now,
		UpdatedAt:        now,
	}
}

// IsTerminal reports whether the execution reached a final state.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// CanCancel reports whether cancellation is still permitted.
func (e *WorkflowExecution) CanCancel() bool {
	switch e.Status {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusRetrying:
		return true
	default:
		return false
	}
}

// RetryDue reports whether a retrying execution is ready to resume.
func (e *WorkflowExecution) RetryDue(now time.Time) bool {
	return e.Status == ExecutionStatusRetrying && e.NextRetryAt != nil && !e.NextRetryAt.After(now)
}

// CurrentStep resolves the step the execution points at.
func (e *WorkflowExecution) CurrentStep() (*Step, error) {
	step, found := e.Snapshot.StepByID(e.CurrentStepID)
	if !found {
		return nil, fmt.Errorf("step %q not present in snapshot of definition %s", e.CurrentStepID, e.DefinitionID)
	}

	return step, nil
}

// AdvanceTo moves the step pointer along a routing edge. The attempt number
// for the new visit continues from the step's earlier visits, keeping the
// (execution, step, attempt) log key unique across loops.
func (e *WorkflowExecution) AdvanceTo(stepID string, now time.Time) {
	if e.StepVisits == nil {
		e.StepVisits = make(map[string]int)
	}

	e.CurrentStepID = stepID
	e.CurrentAttempt = e.StepVisits[stepID] + 1
	e.StepVisits[stepID] = e.CurrentAttempt
	e.NextRetryAt = nil
	e.UpdatedAt = now

	for i, step := range e.Snapshot.Steps {
		if step.ID == stepID {
			e.CurrentStepIndex = i

			break
		}
	}
}

// MarkRunning transitions pending or retrying executions to running.
func (e *WorkflowExecution) MarkRunning(now time.Time) {
	e.Status = ExecutionStatusRunning
	e.UpdatedAt = now
}

// MarkRetrying schedules the next attempt of the current step.
func (e *WorkflowExecution) MarkRetrying(nextRetryAt time.Time, now time.Time) {
	if e.StepVisits == nil {
		e.StepVisits = make(map[string]int)
	}

	e.Status = ExecutionStatusRetrying
	e.RetryCount++
	e.CurrentAttempt++
	e.StepVisits[e.CurrentStepID] = e.CurrentAttempt
	e.NextRetryAt = &nextRetryAt
	e.UpdatedAt = now
}

// MarkCompleted finalizes a successful run.
func (e *WorkflowExecution) MarkCompleted(output map[string]any, now time.Time) {
	e.Status = ExecutionStatusCompleted
	e.Output = output
	e.NextRetryAt = nil
	e.CompletedAt = &now
	e.UpdatedAt = now
}

// MarkFailed finalizes an unsuccessful run.
func (e *WorkflowExecution) MarkFailed(message string, now time.Time) {
	e.Status = ExecutionStatusFailed
	e.ErrorMessage = message
	e.NextRetryAt = nil
	e.CompletedAt = &now
	e.UpdatedAt = now
}

// MarkCancelled finalizes a cancelled run.
func (e *WorkflowExecution) MarkCancelled(now time.Time) {
	e.Status = ExecutionStatusCancelled
	e.NextRetryAt = nil
	e.CompletedAt = &now
	e.UpdatedAt = now
}

// Context builds the accumulated context handed to step executors.
func (e *WorkflowExecution) Context() ExecutionContext {
	return ExecutionContext{
		ExecutionID:  e.ID,
		DefinitionID: e.DefinitionID,
		StepID:       e.CurrentStepID,
		TriggerType:  e.TriggerType,
		InputData:    e.InputData,
		StepResults:  e.StepResults,
	}
}

// ExecutionContext is the read view of a run passed to step executors.
type ExecutionContext struct {
	ExecutionID  string         `json:"execution_id"`
	DefinitionID string         `json:"definition_id"`
	StepID       string         `json:"step_id"`
	TriggerType  TriggerType    `json:"trigger_type"`
	InputData    map[string]any `json:"input_data,omitempty"`
	StepResults  map[string]any `json:"step_results,omitempty"`
}
