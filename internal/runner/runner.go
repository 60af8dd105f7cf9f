// Package runner holds the step runners and the registry the executor
// dispatches through.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

type Result struct {
	Output  any
	Credits int
}

// Runner executes one step type against the current scope.
type Runner interface {
	Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error)
}

type RunnerFunc func(ctx context.Context, step domain.Step, scope *Scope) (Result, error)

func (f RunnerFunc) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	return f(ctx, step, scope)
}

type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(stepType string, runner Runner) error {
	if stepType == "" {
		return fmt.Errorf("step type cannot be empty")
	}
	if runner == nil {
		return fmt.Errorf("runner cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[stepType] = runner
	return nil
}

func (r *Registry) Lookup(stepType string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[stepType]
	return runner, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute dispatches step to the runner registered for its type.
func (r *Registry) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	runner, ok := r.Lookup(step.Type)
	if !ok {
		return Result{}, domain.Validation("unknown step type %q", step.Type)
	}
	return runner.Execute(ctx, step, scope)
}

func requireString(step domain.Step, field string) (string, error) {
	raw, ok := step.Input[field]
	if !ok || raw == nil {
		return "", domain.Validation("step %s: %s is required", step.ID, field)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", domain.Validation("step %s: %s must be a non-empty string", step.ID, field)
	}
	return s, nil
}

func optionalString(step domain.Step, field, fallback string) string {
	if s, ok := step.Input[field].(string); ok && s != "" {
		return s
	}
	return fallback
}

func optionalInt(step domain.Step, field string, fallback int) int {
	switch v := step.Input[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
