package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

const defaultTimeout = 30 * time.Second

// HTTPCompleter calls a completion gateway at POST {endpoint}/v1/completions.
// Outbound calls are throttled by a token bucket.
type HTTPCompleter struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

type HTTPOption func(*HTTPCompleter)

func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPCompleter) { c.apiKey = key }
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPCompleter) { c.client = client }
}

// WithRateLimit allows rps requests per second with the given burst. Zero
// rps disables throttling.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(c *HTTPCompleter) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewHTTPCompleter(endpoint string, opts ...HTTPOption) *HTTPCompleter {
	c := &HTTPCompleter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.Completer = (*HTTPCompleter)(nil)

type completionRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
}

type completionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	requestBody, err := json.Marshal(completionRequest{Provider: req.Provider, Model: req.Model, Prompt: req.Prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/completions", bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("completion failed: status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("completion failed: %s", out.Error)
	}
	return out.Text, nil
}
