package models

import (
	"errors"
	"fmt"
)

// ErrEmptySnapshot is returned when a snapshot carries no steps.
var ErrEmptySnapshot = errors.New("snapshot has no steps")

// ExecutionSnapshot is an immutable copy of a definition's steps and settings
// captured at the moment an execution starts.
type ExecutionSnapshot struct {
	DefinitionID string   `json:"definition_id"`
	Version      int      `json:"version"`
	Steps        []*Step  `json:"steps"`
	Settings     Settings `json:"settings"`
}

// FirstStepID returns the entry point of the step graph.
func (s *ExecutionSnapshot) FirstStepID() string {
	if len(s.Steps) == 0 {
		return ""
	}

	return s.Steps[0].ID
}

// StepByID finds a step in the snapshot by its identifier.
func (s *ExecutionSnapshot) StepByID(stepID string) (*Step, bool) {
	for _, step := range s.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// Validate checks the step graph for structural defects: duplicate step ids
// and routing edges that resolve to neither an existing step nor the terminal
// marker. Cycles are a legitimate authoring pattern and are not rejected.
func (s *ExecutionSnapshot) Validate() error {
	if len(s.Steps) == 0 {
		return ErrEmptySnapshot
	}

	ids := make(map[string]struct{}, len(s.Steps))

	for _, step := range s.Steps {
		if step.ID == TerminalStepID {
			return fmt.Errorf("step id %q is reserved", TerminalStepID)
		}

		if _, exists := ids[step.ID]; exists {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}

		ids[step.ID] = struct{}{}
	}

	for _, step := range s.Steps {
		if err := s.validateEdge(ids, step.ID, "on_success", step.OnSuccess); err != nil {
			return err
		}

		if err := s.validateEdge(ids, step.ID, "on_failure", step.OnFailure); err != nil {
			return err
		}
	}

	return nil
}

func (s *ExecutionSnapshot) validateEdge(ids map[string]struct{}, stepID, edge string, target *string) error {
	if target == nil || *target == TerminalStepID {
		return nil
	}

	if _, exists := ids[*target]; !exists {
		return fmt.Errorf("step %q %s references unknown step %q", stepID, edge, *target)
	}

	return nil
}
