package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

// LoopRunner runs its children once per item. Each iteration reads through a
// child scope holding {item, index}; child failures are recorded in the
// iteration result and never abort the loop.
type LoopRunner struct {
	registry *Registry
}

func NewLoopRunner(registry *Registry) *LoopRunner {
	return &LoopRunner{registry: registry}
}

type ChildResult struct {
	StepID  string `json:"stepId"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Credits int    `json:"credits"`
}

type Iteration struct {
	Item    any           `json:"item"`
	Index   int           `json:"index"`
	Results []ChildResult `json:"results"`
}

func (it Iteration) Failed() bool {
	for _, r := range it.Results {
		if r.Error != "" {
			return true
		}
	}
	return false
}

func (r *LoopRunner) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	items, err := r.items(step, scope)
	if err != nil {
		return Result{}, err
	}
	children, err := step.ChildSteps()
	if err != nil {
		return Result{}, err
	}
	if len(children) == 0 {
		return Result{}, domain.Validation("step %s: children are required", step.ID)
	}

	iterations := make([]Iteration, 0, len(items))
	credits := 0
	successful := 0

	for i, item := range items {
		iterScope := scope.Child(map[string]any{"item": item, "index": i})
		it := Iteration{Item: item, Index: i, Results: make([]ChildResult, 0, len(children))}

		for _, child := range children {
			res, err := r.registry.Execute(ctx, child, iterScope)
			if err != nil {
				it.Results = append(it.Results, ChildResult{StepID: child.ID, Error: domain.Message(err)})
				continue
			}
			credits += res.Credits
			it.Results = append(it.Results, ChildResult{StepID: child.ID, Output: res.Output, Credits: res.Credits})
		}

		if !it.Failed() {
			successful++
		}
		iterations = append(iterations, it)
	}

	return Result{
		Output: map[string]any{
			"iterations": len(items),
			"results":    iterations,
			"summary":    summarize(len(items), successful),
		},
		Credits: credits,
	}, nil
}

func (r *LoopRunner) items(step domain.Step, scope *Scope) ([]any, error) {
	switch v := step.Input["items"].(type) {
	case []any:
		return v, nil
	case string:
		path := strings.TrimPrefix(strings.TrimSpace(v), "$.")
		value, ok := scope.Lookup(path)
		if !ok {
			return nil, domain.Validation("step %s: items path %q not found in context", step.ID, v)
		}
		if list, ok := value.([]any); ok {
			return list, nil
		}
		if generic, ok := toGeneric(value); ok {
			if list, ok := generic.([]any); ok {
				return list, nil
			}
		}
		return nil, domain.Validation("step %s: items path %q does not resolve to an array", step.ID, v)
	case nil:
		return nil, domain.Validation("step %s: items is required", step.ID)
	default:
		return nil, domain.Validation("step %s: items must be a context path or an array", step.ID)
	}
}

func summarize(iterations, successful int) string {
	noun := "iterations"
	if iterations == 1 {
		noun = "iteration"
	}
	return fmt.Sprintf("%d %s: %d successful", iterations, noun, successful)
}
