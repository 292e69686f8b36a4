// Package transform provides a step executor that reshapes the execution
// context into a new structured value through templating.
package transform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/protocol"
	"github.com/ciroautuori/automato/pkg/template"
)

// ErrMissingExpression is returned when the step config has no expression.
var ErrMissingExpression = errors.New("transform step requires an 'expression'")

type Step struct {
	Expression string
}

func NewStep(config map[string]any) (*Step, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, ErrMissingExpression
	}

	return &Step{Expression: expression}, nil
}

func (s *Step) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.Result, error) {
	logger.DebugContext(ctx, "Executing transform step", "step_type", "transform")

	rendered, err := template.RenderWithContext(s.Expression, executionCtx)
	if err != nil {
		return nil, err
	}

	if structured, ok := rendered.(map[string]any); ok {
		return &protocol.Result{Output: structured}, nil
	}

	return &protocol.Result{Output: map[string]any{"value": rendered}}, nil
}
