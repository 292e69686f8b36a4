package models

// TerminalStepID is the reserved routing target that ends an execution.
// A nil routing edge is equivalent.
const TerminalStepID = "end"

// Step is one unit of work in a workflow. Config is an opaque payload
// interpreted by the executor registered for Type; routing is by explicit
// on_success/on_failure edges, never by array position.
type Step struct {
	ID        string         `json:"id"   validate:"required"`
	Type      string         `json:"type" validate:"required"`
	Name      string         `json:"name" validate:"required"`
	Config    map[string]any `json:"config"`
	OnSuccess *string        `json:"on_success,omitempty"`
	OnFailure *string        `json:"on_failure,omitempty"`
	Enabled   bool           `json:"enabled"`
}

// NextStepID resolves the routing edge for the given outcome. Empty means
// the execution terminates.
func (s *Step) NextStepID(success bool) string {
	var target *string
	if success {
		target = s.OnSuccess
	} else {
		target = s.OnFailure
	}

	if target == nil || *target == TerminalStepID {
		return ""
	}

	return *target
}
