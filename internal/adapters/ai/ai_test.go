package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

func TestMockCompleter(t *testing.T) {
	ctx := context.Background()
	c := NewMockCompleter()

	t.Run("uses the provider template", func(t *testing.T) {
		out, err := c.Complete(ctx, ports.CompletionRequest{Provider: "openai", Model: "gpt-4", Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, `This is a mock response from OpenAI GPT-4 for: "hello"...`, out)
	})

	t.Run("falls back for unknown models", func(t *testing.T) {
		out, err := c.Complete(ctx, ports.CompletionRequest{Provider: "acme", Model: "m1", Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, `Mock acme m1 response to: "hi"...`, out)
	})

	t.Run("quotes at most 100 characters", func(t *testing.T) {
		out, err := c.Complete(ctx, ports.CompletionRequest{Provider: "anthropic", Model: "claude-3-haiku", Prompt: strings.Repeat("é", 150)})
		require.NoError(t, err)
		assert.Contains(t, out, strings.Repeat("é", 100)+`"`)
		assert.NotContains(t, out, strings.Repeat("é", 101))
	})
}

func TestHTTPCompleter(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the request and returns the text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/completions", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var body completionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "openai", body.Provider)
			assert.Equal(t, "gpt-4", body.Model)

			_ = json.NewEncoder(w).Encode(completionResponse{Text: "echo: " + body.Prompt})
		}))
		defer server.Close()

		c := NewHTTPCompleter(server.URL+"/", WithAPIKey("secret"))
		out, err := c.Complete(ctx, ports.CompletionRequest{Provider: "openai", Model: "gpt-4", Prompt: "ping"})

		require.NoError(t, err)
		assert.Equal(t, "echo: ping", out)
	})

	t.Run("surfaces non-200 responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := NewHTTPCompleter(server.URL).Complete(ctx, ports.CompletionRequest{Prompt: "x"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("throttles requests", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_ = json.NewEncoder(w).Encode(completionResponse{Text: "ok"})
		}))
		defer server.Close()

		c := NewHTTPCompleter(server.URL, WithRateLimit(1, 1))
		_, err := c.Complete(ctx, ports.CompletionRequest{Prompt: "first"})
		require.NoError(t, err)

		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = c.Complete(short, ports.CompletionRequest{Prompt: "second"})

		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}
