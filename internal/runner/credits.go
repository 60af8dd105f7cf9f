package runner

import (
	"math"
	"unicode/utf8"
)

// DefaultRate applies to provider/model pairs missing from the table.
const DefaultRate = 10.0

type modelKey struct {
	provider string
	model    string
}

// RateTable maps provider × model to credits per estimated token.
type RateTable struct {
	rates       map[modelKey]float64
	defaultRate float64
}

func NewRateTable(defaultRate float64) *RateTable {
	if defaultRate <= 0 {
		defaultRate = DefaultRate
	}
	return &RateTable{rates: make(map[modelKey]float64), defaultRate: defaultRate}
}

// DefaultRateTable returns the built-in provider rates.
func DefaultRateTable() *RateTable {
	t := NewRateTable(DefaultRate)
	t.Set("openai", "gpt-4", 30)
	t.Set("openai", "gpt-3.5-turbo", 2)
	t.Set("openai", "o3", 15)
	t.Set("anthropic", "claude-3-5-sonnet", 15)
	t.Set("anthropic", "claude-3-haiku", 0.25)
	t.Set("perplexity", "sonar-reasoning-pro", 20)
	return t
}

func (t *RateTable) Set(provider, model string, rate float64) {
	t.rates[modelKey{provider, model}] = rate
}

// SetDefaultRate changes the fallback rate; non-positive values are ignored.
func (t *RateTable) SetDefaultRate(rate float64) {
	if rate > 0 {
		t.defaultRate = rate
	}
}

func (t *RateTable) Rate(provider, model string) float64 {
	if rate, ok := t.rates[modelKey{provider, model}]; ok {
		return rate
	}
	return t.defaultRate
}

// EstimateTokens approximates one token per four characters.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

// Credits charges ceil(tokens × rate) for prompt.
func (t *RateTable) Credits(provider, model, prompt string) int {
	return int(math.Ceil(float64(EstimateTokens(prompt)) * t.Rate(provider, model)))
}
