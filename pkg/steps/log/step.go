// Package log provides a step executor that writes a structured log line.
package log

import (
	"context"
	"log/slog"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/protocol"
	"github.com/ciroautuori/automato/pkg/template"
)

// Step logs a templated message at a configured level.
type Step struct {
	Message string
	Level   string
}

func NewStep(config map[string]any) *Step {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Step{Message: message, Level: level}
}

func (s *Step) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.Result, error) {
	message, err := template.RenderString(s.Message, executionCtx)
	if err != nil {
		return nil, err
	}

	logger = logger.With("step_type", "log")

	switch s.Level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn", "warning":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return &protocol.Result{Output: map[string]any{"message": message}}, nil
}
