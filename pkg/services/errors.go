// Package services provides the business logic layer over persistence.
package services

import (
	"errors"
	"fmt"

	"github.com/ciroautuori/automato/pkg/persistence"
)

// Business logic errors. Validation errors map to 400 responses, conflict
// errors to 409.
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrDefinitionNil        = errors.New("definition cannot be nil")
	ErrNameRequired         = errors.New("definition name is required")
	ErrStepsRequired        = errors.New("definition must have at least one step")
	ErrInvalidTriggerType   = errors.New("invalid trigger type")
	ErrDefinitionValidation = errors.New("definition validation failed")

	// Business logic conflicts (409 Conflict).
	ErrNotDraft          = errors.New("definition is not a draft")
	ErrNotActive         = errors.New("definition is not active")
	ErrArchived          = errors.New("definition is archived")
	ErrNotEditable       = errors.New("definition cannot be modified in its current status")
	ErrScheduleExists    = errors.New("schedule already exists for this expression")
	ErrScheduleForbidden = errors.New("schedules require a scheduled trigger type")
)

// ValidationError carries the per-field detail of a failed definition
// validation so the API can return it to the caller.
type ValidationError struct {
	Op      string
	Details []string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Details)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError wraps a validation failure with its detail lines.
func NewValidationError(op string, details []string, err error) *ValidationError {
	return &ValidationError{Op: op, Details: details, Err: err}
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrInvalidTriggerType) ||
		errors.Is(err, ErrDefinitionValidation)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotDraft) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrArchived) ||
		errors.Is(err, ErrNotEditable) ||
		errors.Is(err, ErrScheduleExists) ||
		errors.Is(err, ErrScheduleForbidden) ||
		errors.Is(err, persistence.ErrScheduleAlreadyExists) ||
		errors.Is(err, persistence.ErrConcurrencyConflict)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrDefinitionNotFound) ||
		errors.Is(err, persistence.ErrExecutionNotFound) ||
		errors.Is(err, persistence.ErrScheduleNotFound)
}
