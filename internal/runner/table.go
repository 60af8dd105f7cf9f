package runner

import (
	"context"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

// TableRunner publishes a constant list of rows under {rows}.
func TableRunner() Runner {
	return RunnerFunc(func(_ context.Context, step domain.Step, _ *Scope) (Result, error) {
		rows, ok := step.Input["rows"].([]any)
		if !ok {
			return Result{}, domain.Validation("step %s: rows must be an array", step.ID)
		}
		return Result{Output: map[string]any{"rows": rows}}, nil
	})
}
