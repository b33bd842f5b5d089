package engine

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Evaluate resolves a condition expression against the live run context.
// The grammar covers dotted result./context. paths, string/numeric/bool
// literals, the comparison operators, and/or, parentheses and the
// subtasks.includes('x') helper. Malformed expressions and references to
// missing paths evaluate to false; evaluation never panics.
func Evaluate(expr string, ec *ExecutionContext) bool {
	node, err := parseCondition(expr)
	if err != nil {
		return false
	}
	value, ok := node.eval(ec)
	if !ok {
		return false
	}
	return truthy(value)
}

//------------//
// Lexer      //
//------------//

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkNumber
	tkString
	tkOp
	tkAnd
	tkOr
	tkLParen
	tkRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func lexCondition(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{kind: tkLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tkRParen})
			i++
		case c == '\'':
			end := strings.IndexByte(expr[i+1:], '\'')
			if end < 0 {
				return nil, errors.New("unterminated string literal")
			}
			toks = append(toks, token{kind: tkString, text: expr[i+1 : i+1+end]})
			i += end + 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" || op == "!" {
				return nil, errors.Errorf("invalid operator %q", op)
			}
			toks = append(toks, token{kind: tkOp, text: op})
		case c >= '0' && c <= '9':
			start := i
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			num, err := strconv.ParseFloat(expr[start:i], 64)
			if err != nil {
				return nil, errors.Errorf("invalid number %q", expr[start:i])
			}
			toks = append(toks, token{kind: tkNumber, num: num})
		case isIdentByte(c):
			start := i
			for i < len(expr) && (isIdentByte(expr[i]) || expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			word := expr[start:i]
			if strings.Contains(word, "..") || strings.HasSuffix(word, ".") {
				return nil, errors.Errorf("malformed path %q", word)
			}
			switch word {
			case "and":
				toks = append(toks, token{kind: tkAnd})
			case "or":
				toks = append(toks, token{kind: tkOr})
			default:
				toks = append(toks, token{kind: tkIdent, text: word})
			}
		default:
			return nil, errors.Errorf("unexpected character %q", c)
		}
	}
	return append(toks, token{kind: tkEOF}), nil
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

//------------//
// Parser     //
//------------//

// condExpr is an evaluatable condition AST node. eval returns the value
// and whether it could be resolved; unresolved operands degrade to false
// at the caller, never to an error.
type condExpr interface {
	eval(ec *ExecutionContext) (any, bool)
}

type condParser struct {
	toks []token
	pos  int
}

func parseCondition(expr string) (condExpr, error) {
	toks, err := lexCondition(expr)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tkEOF {
		return nil, errors.New("trailing tokens after expression")
	}
	return node, nil
}

func (p *condParser) peek() token {
	return p.toks[p.pos]
}

func (p *condParser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *condParser) parseOr() (condExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicExpr{or: true, left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (condExpr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkAnd {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = logicExpr{left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseComparison() (condExpr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tkOp {
		return left, nil
	}
	op := p.next().text
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return cmpExpr{op: op, left: left, right: right}, nil
}

func (p *condParser) parseOperand() (condExpr, error) {
	switch t := p.next(); t.kind {
	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tkRParen {
			return nil, errors.New("unbalanced parentheses")
		}
		return inner, nil
	case tkNumber:
		return litExpr{value: t.num}, nil
	case tkString:
		return litExpr{value: t.text}, nil
	case tkIdent:
		switch t.text {
		case "true":
			return litExpr{value: true}, nil
		case "false":
			return litExpr{value: false}, nil
		case "subtasks.includes":
			return p.parseIncludes()
		}
		return pathExpr{path: t.text}, nil
	default:
		return nil, errors.New("expected an operand")
	}
}

func (p *condParser) parseIncludes() (condExpr, error) {
	if p.next().kind != tkLParen {
		return nil, errors.New("subtasks.includes requires an argument")
	}
	arg := p.next()
	if arg.kind != tkString {
		return nil, errors.New("subtasks.includes requires a string argument")
	}
	if p.next().kind != tkRParen {
		return nil, errors.New("unbalanced parentheses")
	}
	return includesExpr{name: arg.text}, nil
}

//------------//
// Evaluation //
//------------//

type litExpr struct {
	value any
}

func (e litExpr) eval(*ExecutionContext) (any, bool) {
	return e.value, true
}

type pathExpr struct {
	path string
}

func (e pathExpr) eval(ec *ExecutionContext) (any, bool) {
	return ec.Lookup(e.path)
}

// includesExpr is true when the named subtask has recorded a result, or
// appears in the caller-seeded "subtasks" variable.
type includesExpr struct {
	name string
}

func (e includesExpr) eval(ec *ExecutionContext) (any, bool) {
	if ec.HasResult(e.name) {
		return true, true
	}
	if raw, ok := ec.Variable("subtasks"); ok {
		switch list := raw.(type) {
		case []string:
			for _, item := range list {
				if item == e.name {
					return true, true
				}
			}
		case []any:
			for _, item := range list {
				if s, ok := item.(string); ok && s == e.name {
					return true, true
				}
			}
		}
	}
	return false, true
}

type cmpExpr struct {
	op          string
	left, right condExpr
}

func (e cmpExpr) eval(ec *ExecutionContext) (any, bool) {
	left, leftOK := e.left.eval(ec)
	right, rightOK := e.right.eval(ec)
	if !leftOK || !rightOK {
		// A missing path never matches anything.
		return false, true
	}
	return compare(e.op, left, right), true
}

func compare(op string, left, right any) bool {
	if lf, lok := toFloat(left); lok {
		if rf, rok := toFloat(right); rok {
			switch op {
			case "==":
				return lf == rf
			case "!=":
				return lf != rf
			case ">":
				return lf > rf
			case "<":
				return lf < rf
			case ">=":
				return lf >= rf
			case "<=":
				return lf <= rf
			}
			return false
		}
	}
	ls, rs := stringify(left), stringify(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

type logicExpr struct {
	or          bool
	left, right condExpr
}

func (e logicExpr) eval(ec *ExecutionContext) (any, bool) {
	left, ok := e.left.eval(ec)
	leftTruthy := ok && truthy(left)
	if e.or && leftTruthy {
		return true, true
	}
	if !e.or && !leftTruthy {
		return false, true
	}
	right, ok := e.right.eval(ec)
	return ok && truthy(right), true
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	}
	if f, ok := toFloat(value); ok {
		return f != 0
	}
	return true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
