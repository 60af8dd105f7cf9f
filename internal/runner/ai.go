package runner

import (
	"context"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

// AIRunner sends the resolved prompt to a completion provider and charges
// credits from the rate table.
type AIRunner struct {
	completer ports.Completer
	rates     *RateTable
}

func NewAIRunner(completer ports.Completer, rates *RateTable) *AIRunner {
	if rates == nil {
		rates = DefaultRateTable()
	}
	return &AIRunner{completer: completer, rates: rates}
}

func (r *AIRunner) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	provider, err := requireString(step, "provider")
	if err != nil {
		return Result{}, err
	}
	model, err := requireString(step, "model")
	if err != nil {
		return Result{}, err
	}
	prompt, err := requireString(step, "prompt")
	if err != nil {
		return Result{}, err
	}

	prompt = Resolve(prompt, scope)
	text, err := r.completer.Complete(ctx, ports.CompletionRequest{
		Provider: provider,
		Model:    model,
		Prompt:   prompt,
	})
	if err != nil {
		return Result{}, domain.ExternalService("ai", err)
	}

	return Result{Output: text, Credits: r.rates.Credits(provider, model, prompt)}, nil
}
