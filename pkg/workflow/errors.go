// Package workflow implements the execution engine: the state machine that
// drives a run from pending through its steps to a terminal state.
package workflow

import (
	"errors"
	"fmt"
)

// ErrRetryBudgetExceeded is recorded on an execution that exhausted its
// retries. It never escapes the engine as a returned error; callers observe
// it through the execution status and error message.
var ErrRetryBudgetExceeded = errors.New("retry budget exceeded")

// ErrNotCancellable is returned when Cancel is called on an execution that
// already reached a terminal state.
var ErrNotCancellable = errors.New("execution cannot be cancelled in its current state")

// StepExecutionError wraps an executor failure, timeout or panic for one
// step attempt.
type StepExecutionError struct {
	StepID  string
	Attempt int
	Err     error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q attempt %d: %v", e.StepID, e.Attempt, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// NewStepExecutionError creates a step execution error.
func NewStepExecutionError(stepID string, attempt int, err error) *StepExecutionError {
	return &StepExecutionError{StepID: stepID, Attempt: attempt, Err: err}
}
