package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/logging"
)

type LogRunner struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLogRunner(logger *slog.Logger) *LogRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRunner{logger: logger, now: time.Now}
}

func (r *LogRunner) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	message, err := requireString(step, "message")
	if err != nil {
		return Result{}, err
	}
	message = Resolve(message, scope)
	level := strings.ToLower(optionalString(step, "level", "info"))

	r.logger.Log(ctx, logging.ParseLevel(level), message,
		slog.String("step_id", step.ID),
		slog.String("source", "workflow"),
	)

	return Result{Output: map[string]any{
		"message":   message,
		"level":     level,
		"timestamp": r.now().UTC().Format(time.RFC3339Nano),
	}}, nil
}
