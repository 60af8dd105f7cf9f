// Package ai implements ports.Completer: a deterministic offline completer
// and an HTTP client for a completion gateway.
package ai

import (
	"context"
	"fmt"

	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

const promptPreview = 100

var mockTemplates = map[string]map[string]string{
	"openai": {
		"gpt-4":         "This is a mock response from OpenAI GPT-4 for: %q...",
		"gpt-3.5-turbo": "Mock OpenAI GPT-3.5 response to: %q...",
		"o3":            "Mock OpenAI o3 response regarding: %q...",
	},
	"anthropic": {
		"claude-3-5-sonnet": "Mock Anthropic Claude 3.5 Sonnet analysis of: %q...",
		"claude-3-haiku":    "Mock Anthropic Claude 3 Haiku response to: %q...",
	},
	"perplexity": {
		"sonar-reasoning-pro": "Mock Perplexity Sonar reasoning about: %q...",
	},
}

// MockCompleter answers every prompt with a canned, provider-specific line
// quoting the first 100 characters of the prompt.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

var _ ports.Completer = (*MockCompleter)(nil)

func (m *MockCompleter) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	preview := truncate(req.Prompt, promptPreview)
	if tmpl, ok := mockTemplates[req.Provider][req.Model]; ok {
		return fmt.Sprintf(tmpl, preview), nil
	}
	return fmt.Sprintf("Mock %s %s response to: %q...", req.Provider, req.Model, preview), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
