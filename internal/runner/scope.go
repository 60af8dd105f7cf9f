package runner

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

// Scope is the run-scoped map of step outputs that templates resolve
// against. Loop iterations read through a child scope layered on top of the
// run scope; writes never reach the parent.
type Scope struct {
	parent *Scope
	vars   map[string]any
}

func NewScope() *Scope {
	return &Scope{vars: make(map[string]any)}
}

// Child returns a read-through view of s extended with vars.
func (s *Scope) Child(vars map[string]any) *Scope {
	child := &Scope{parent: s, vars: make(map[string]any, len(vars))}
	for k, v := range vars {
		child.vars[k] = v
	}
	return child
}

func (s *Scope) Get(key string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set records a value at this level. Keys are write-once.
func (s *Scope) Set(key string, value any) error {
	if _, exists := s.vars[key]; exists {
		return domain.Validation("context key %q already written", key)
	}
	s.vars[key] = value
	return nil
}

// Snapshot flattens the scope into a single map, children shadowing parents.
func (s *Scope) Snapshot() map[string]any {
	out := make(map[string]any)
	var layers []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		layers = append(layers, cur)
	}
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i].vars {
			out[k] = v
		}
	}
	return out
}

// Lookup walks a dot-separated path. Numeric segments index into arrays.
func (s *Scope) Lookup(path string) (any, bool) {
	segments := strings.Split(strings.TrimSpace(path), ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}
	current, ok := s.Get(segments[0])
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		current, ok = descend(current, seg)
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func descend(value any, key string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		next, ok := v[key]
		return next, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v) {
			return nil, false
		}
		return v[i], true
	case nil, string, bool, int, int64, float64:
		return nil, false
	default:
		generic, ok := toGeneric(v)
		if !ok {
			return nil, false
		}
		return descend(generic, key)
	}
}

// toGeneric converts typed values (structs, typed slices) into the
// map[string]any / []any shapes paths walk through.
func toGeneric(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, true
	}
	return nil, false
}
