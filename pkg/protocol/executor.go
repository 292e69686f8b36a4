// Package protocol defines the contracts between the execution engine and
// pluggable step executors.
package protocol

import (
	"context"
	"log/slog"

	"github.com/ciroautuori/automato/pkg/models"
)

// Result is the outcome of one step invocation.
type Result struct {
	Output map[string]any `json:"output,omitempty"`
}

// StepExecutor performs one step's side effect. Implementations must honor
// the deadline carried by ctx; the engine treats an overrun as a failed
// attempt.
type StepExecutor interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*Result, error)
}

// StepExecutorFactory builds executors for one step type. Create receives the
// step's opaque config; configs are validated against Schema once, at
// definition activation, not on every execution tick.
type StepExecutorFactory interface {
	ID() string
	Create(config map[string]any) (StepExecutor, error)
	Schema() map[string]any
}
