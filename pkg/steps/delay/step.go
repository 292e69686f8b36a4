// Package delay provides a step executor that pauses the run for a fixed
// duration before routing to the next step.
package delay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/protocol"
)

// ErrInvalidDuration is returned when the configured duration is missing or
// not positive.
var ErrInvalidDuration = errors.New("delay step requires a positive 'seconds'")

type Step struct {
	Duration time.Duration
}

func NewStep(config map[string]any) (*Step, error) {
	seconds, ok := config["seconds"].(float64)
	if !ok || seconds <= 0 {
		return nil, ErrInvalidDuration
	}

	return &Step{Duration: time.Duration(seconds * float64(time.Second))}, nil
}

// Execute waits for the configured duration. The wait is cut short when the
// engine's per-step deadline or a cancellation arrives.
func (s *Step) Execute(ctx context.Context, _ models.ExecutionContext, logger *slog.Logger) (*protocol.Result, error) {
	logger.DebugContext(ctx, "Delaying", "step_type", "delay", "duration", s.Duration)

	timer := time.NewTimer(s.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return &protocol.Result{Output: map[string]any{"delayed_seconds": s.Duration.Seconds()}}, nil
	}
}
