package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

func scopeWith(t *testing.T, vars map[string]any) *Scope {
	t.Helper()
	s := NewScope()
	for k, v := range vars {
		require.NoError(t, s.Set(k, v))
	}
	return s
}

func TestResolve(t *testing.T) {
	scope := scopeWith(t, map[string]any{
		"user": map[string]any{"name": "Ana", "age": 34},
		"s1":   map[string]any{"rows": []any{map[string]any{"topic": "Relay"}}},
		"ai":   "summary text",
	})

	t.Run("replaces a nested path", func(t *testing.T) {
		assert.Equal(t, "Hello Ana", Resolve("Hello {{user.name}}", scope))
	})

	t.Run("leaves a missing path verbatim", func(t *testing.T) {
		assert.Equal(t, "{{missing.path}}", Resolve("{{missing.path}}", NewScope()))
	})

	t.Run("leaves a partially missing path verbatim", func(t *testing.T) {
		assert.Equal(t, "Mail {{user.email}} now", Resolve("Mail {{user.email}} now", scope))
	})

	t.Run("trims whitespace inside the braces", func(t *testing.T) {
		assert.Equal(t, "Ana", Resolve("{{ user.name }}", scope))
	})

	t.Run("indexes arrays with numeric segments", func(t *testing.T) {
		assert.Equal(t, "Relay", Resolve("{{s1.rows.0.topic}}", scope))
		assert.Equal(t, "{{s1.rows.3.topic}}", Resolve("{{s1.rows.3.topic}}", scope))
	})

	t.Run("renders non-string values", func(t *testing.T) {
		assert.Equal(t, "34", Resolve("{{user.age}}", scope))
		assert.JSONEq(t, `[{"topic":"Relay"}]`, Resolve("{{s1.rows}}", scope))
	})

	t.Run("resolves several tokens", func(t *testing.T) {
		assert.Equal(t, "Ana: summary text {{nope}}", Resolve("{{user.name}}: {{ai}} {{nope}}", scope))
	})

	t.Run("cannot descend into scalars", func(t *testing.T) {
		assert.Equal(t, "{{ai.length}}", Resolve("{{ai.length}}", scope))
	})
}

func TestResolveValue(t *testing.T) {
	scope := scopeWith(t, map[string]any{"user": map[string]any{"name": "Ana"}})

	resolved := ResolveValue(map[string]any{
		"to":    "{{user.name}}@example.com",
		"list":  []any{"{{user.name}}", 3},
		"count": 2,
	}, scope)

	assert.Equal(t, map[string]any{
		"to":    "Ana@example.com",
		"list":  []any{"Ana", 3},
		"count": 2,
	}, resolved)
}

func TestScope(t *testing.T) {
	t.Run("keys are write-once", func(t *testing.T) {
		s := NewScope()
		require.NoError(t, s.Set("s1", "first"))

		err := s.Set("s1", "second")

		assert.True(t, domain.IsValidation(err))
		v, _ := s.Get("s1")
		assert.Equal(t, "first", v)
	})

	t.Run("child reads through to parent and never writes back", func(t *testing.T) {
		parent := scopeWith(t, map[string]any{"s1": "parent", "item": "outer"})
		child := parent.Child(map[string]any{"item": "inner", "index": 0})

		v, ok := child.Get("s1")
		assert.True(t, ok)
		assert.Equal(t, "parent", v)

		v, _ = child.Get("item")
		assert.Equal(t, "inner", v)

		require.NoError(t, child.Set("c1", "child output"))
		_, ok = parent.Get("c1")
		assert.False(t, ok)
		_, ok = parent.Get("index")
		assert.False(t, ok)
	})

	t.Run("snapshot flattens layers", func(t *testing.T) {
		parent := scopeWith(t, map[string]any{"a": 1, "item": "outer"})
		child := parent.Child(map[string]any{"item": "inner"})

		assert.Equal(t, map[string]any{"a": 1, "item": "inner"}, child.Snapshot())
	})

	t.Run("lookup walks typed values", func(t *testing.T) {
		type row struct {
			Topic string `json:"topic"`
		}
		s := scopeWith(t, map[string]any{"rows": []row{{Topic: "Relay"}}})

		v, ok := s.Lookup("rows.0.topic")

		assert.True(t, ok)
		assert.Equal(t, "Relay", v)
	})
}
