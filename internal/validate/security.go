package validate

import (
	"fmt"
	"strings"

	"github.com/avi3tal/stepflow/internal/types"
)

// DefaultDangerousPatterns flags tool names suggesting destructive or
// system-level operations. Matching is case-insensitive substring.
var DefaultDangerousPatterns = []string{
	"delete", "remove", "drop", "exec", "system", "shell", "kill", "sudo",
}

// securityIssues audits a TASK node: tool names against the dangerous
// pattern set, and parameter values for ${...} templates whose resolved
// value cannot be statically audited.
func securityIssues(n *types.Node, patterns []string) []Issue {
	var issues []Issue
	for _, tool := range n.Tools() {
		lowered := strings.ToLower(tool)
		for _, pattern := range patterns {
			if strings.Contains(lowered, pattern) {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("tool '%s' matches dangerous pattern '%s'", tool, pattern),
					NodeID:   n.ID,
				})
				break
			}
		}
	}
	for _, key := range templatedParameters(n.Parameters()) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("dynamic parameter '%s' on task '%s' cannot be statically audited", key, n.TaskName()),
			NodeID:   n.ID,
		})
	}
	return issues
}

// templatedParameters returns the keys whose values (at any depth)
// contain a ${...} template reference.
func templatedParameters(params map[string]any) []string {
	var keys []string
	for key, value := range params {
		if containsTemplate(value) {
			keys = append(keys, key)
		}
	}
	sortIDs(keys)
	return keys
}

func containsTemplate(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, "${")
	case map[string]any:
		for _, nested := range v {
			if containsTemplate(nested) {
				return true
			}
		}
	case []any:
		for _, nested := range v {
			if containsTemplate(nested) {
				return true
			}
		}
	}
	return false
}
