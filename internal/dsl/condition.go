package dsl

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ConditionClass is the informational classification of a condition
// string, used to route it to the right evaluator path. It is stored in
// node config and is never fatal.
type ConditionClass string

const (
	CondSubtaskCheck ConditionClass = "subtask_check"
	CondResultCheck  ConditionClass = "result_check"
	CondContextCheck ConditionClass = "context_check"
	CondComparison   ConditionClass = "comparison"
	CondLogical      ConditionClass = "logical"
	CondExpression   ConditionClass = "expression"
)

var (
	identSegmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	identRunRe     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*`)
	operatorRunRe  = regexp.MustCompile(`[=!<>]+`)
	doubledCmpRe   = regexp.MustCompile(`(==|!=|>=|<=|>|<)\s*(==|!=|>=|<=|>|<)`)
	doubledLogicRe = regexp.MustCompile(`\b(and|or)\s+(and|or)\b`)
	logicalWordRe  = regexp.MustCompile(`\b(and|or)\b`)
	comparisonRe   = regexp.MustCompile(`==|!=|>=|<=|>|<`)
	leadingDotRe   = regexp.MustCompile(`(^|[\s(])\.`)
)

var validOperators = map[string]bool{
	"==": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true,
}

// CheckConditionSyntax verifies the surface syntax of a condition string:
// balanced parentheses, closed single-quoted literals, well-formed dotted
// paths and no doubled operators. It does not evaluate anything.
func CheckConditionSyntax(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return errors.New("condition is empty")
	}

	depth := 0
	inString := false
	for i := 0; i < len(trimmed); i++ {
		switch c := trimmed[i]; {
		case inString:
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return errors.New("unbalanced parentheses")
			}
		}
	}
	if inString {
		return errors.New("unterminated string literal")
	}
	if depth != 0 {
		return errors.New("unbalanced parentheses")
	}

	stripped := stripStringLiterals(trimmed)

	if strings.Contains(stripped, "..") {
		return errors.New("doubled dot in path")
	}
	if leadingDotRe.MatchString(stripped) {
		return errors.New("path cannot start with a dot")
	}
	for _, op := range operatorRunRe.FindAllString(stripped, -1) {
		if !validOperators[op] {
			return errors.Errorf("invalid operator %q", op)
		}
	}
	if doubledCmpRe.MatchString(stripped) {
		return errors.New("doubled comparison operator")
	}
	if doubledLogicRe.MatchString(stripped) {
		return errors.New("doubled logical operator")
	}
	for _, run := range identRunRe.FindAllString(stripped, -1) {
		if strings.HasSuffix(run, ".") {
			return errors.Errorf("path %q cannot end with a dot", run)
		}
		for _, segment := range strings.Split(run, ".") {
			if !identSegmentRe.MatchString(segment) {
				return errors.Errorf("invalid identifier %q", run)
			}
		}
	}
	return nil
}

// ClassifyCondition buckets a condition string for evaluator routing.
// Classification is best effort and informational only.
func ClassifyCondition(expr string) ConditionClass {
	trimmed := strings.TrimSpace(expr)
	stripped := stripStringLiterals(trimmed)
	switch {
	case strings.Contains(stripped, "subtasks.includes"):
		return CondSubtaskCheck
	case logicalWordRe.MatchString(stripped):
		return CondLogical
	case strings.HasPrefix(trimmed, "result."):
		return CondResultCheck
	case strings.HasPrefix(trimmed, "context."):
		return CondContextCheck
	case comparisonRe.MatchString(stripped):
		return CondComparison
	default:
		return CondExpression
	}
}

// stripStringLiterals replaces each single-quoted literal with a literal
// zero so that token-level checks never look inside strings.
func stripStringLiterals(expr string) string {
	var b strings.Builder
	b.Grow(len(expr))
	inString := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inString:
			if c == '\'' {
				inString = false
				b.WriteByte('0')
			}
		case c == '\'':
			inString = true
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
