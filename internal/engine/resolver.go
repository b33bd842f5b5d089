package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var templateRe = regexp.MustCompile(`\$\{([^}]*)\}`)

// ResolveParameters substitutes ${result....} / ${context....} template
// references in string parameter values, recursing into nested maps and
// lists. Resolved values are coerced to strings in place; a reference
// that cannot be resolved is left as the literal token so the failure is
// visible downstream. Non-template values pass through unchanged and the
// key count is always preserved.
func ResolveParameters(params map[string]any, ec *ExecutionContext) map[string]any {
	resolved := make(map[string]any, len(params))
	for key, value := range params {
		resolved[key] = resolveValue(value, ec)
	}
	return resolved
}

func resolveValue(value any, ec *ExecutionContext) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, ec)
	case map[string]any:
		return ResolveParameters(v, ec)
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			resolved[i] = resolveValue(item, ec)
		}
		return resolved
	default:
		return value
	}
}

func resolveString(s string, ec *ExecutionContext) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return templateRe.ReplaceAllStringFunc(s, func(tok string) string {
		path := strings.TrimSpace(tok[2 : len(tok)-1])
		value, ok := ec.Lookup(path)
		if !ok {
			return tok
		}
		return stringify(value)
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
