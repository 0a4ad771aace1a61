package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Resolve replaces {{ key }} and {{ a.b }} placeholders in s with values from
// vars. Placeholders naming unknown keys are left as written.
func Resolve(s string, vars map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := lookup(vars, key)
		if !ok {
			return m
		}
		return stringify(v)
	})
}

// ResolveConfig returns a copy of cfg with every string value, at any depth,
// passed through Resolve.
func ResolveConfig(cfg map[string]any, vars map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = resolveValue(v, vars)
	}
	return out
}

func resolveValue(v any, vars map[string]any) any {
	switch t := v.(type) {
	case string:
		return Resolve(t, vars)
	case map[string]any:
		return ResolveConfig(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, vars)
		}
		return out
	default:
		return v
	}
}

func lookup(vars map[string]any, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// configString reads a string from a resolved config, tolerating absent keys.
func configString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return strings.TrimSpace(s)
}
