package models

import "time"

// StepLogStatus is the state of one step attempt.
type StepLogStatus string

const (
	StepLogStatusRunning   StepLogStatus = "running"
	StepLogStatusCompleted StepLogStatus = "completed"
	StepLogStatusFailed    StepLogStatus = "failed"
)

// StepLog is the append-only record of one step attempt. A log is never
// mutated after it reaches a terminal status.
type StepLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	StepType    string         `json:"step_type"`
	StepName    string         `json:"step_name"`
	Attempt     int            `json:"attempt"`
	Status      StepLogStatus  `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}

// NewStepLog opens a running log for one attempt of a step.
func NewStepLog(id string, step *Step, executionID string, attempt int, input map[string]any, now time.Time) *StepLog {
	return &StepLog{
		ID:          id,
		ExecutionID: executionID,
		StepID:      step.ID,
		StepType:    step.Type,
		StepName:    step.Name,
		Attempt:     attempt,
		Status:      StepLogStatusRunning,
		Input:       input,
		StartedAt:   now,
	}
}

// IsTerminal reports whether the attempt has a recorded outcome.
func (l *StepLog) IsTerminal() bool {
	return l.Status == StepLogStatusCompleted || l.Status == StepLogStatusFailed
}

// MarkCompleted records a successful outcome.
func (l *StepLog) MarkCompleted(output map[string]any, now time.Time) {
	l.Status = StepLogStatusCompleted
	l.Output = output
	l.FinishedAt = &now
	l.DurationMS = now.Sub(l.StartedAt).Milliseconds()
}

// MarkFailed records a failed outcome.
func (l *StepLog) MarkFailed(message string, now time.Time) {
	l.Status = StepLogStatusFailed
	l.Error = message
	l.FinishedAt = &now
	l.DurationMS = now.Sub(l.StartedAt).Milliseconds()
}
