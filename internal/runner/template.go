package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Resolve replaces every {{path}} token in s with the value found at path in
// scope. Tokens whose path does not fully resolve are left as written.
func Resolve(s string, scope *Scope) string {
	if scope == nil {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := tokenPattern.FindStringSubmatch(token)[1]
		value, ok := scope.Lookup(path)
		if !ok {
			return token
		}
		return render(value)
	})
}

// ResolveValue applies Resolve to every string inside v, descending into
// maps and slices. Other values are returned unchanged.
func ResolveValue(v any, scope *Scope) any {
	switch val := v.(type) {
	case string:
		return Resolve(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ResolveValue(item, scope)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ResolveValue(item, scope)
		}
		return out
	default:
		return v
	}
}

func render(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
