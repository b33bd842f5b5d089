package dsl

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/avi3tal/stepflow/internal/types"
)

// Metadata summarizes the shape of a parsed tree.
type Metadata struct {
	NodeCount          int `json:"node_count"`
	MaxDepth           int `json:"max_depth"`
	ParallelBlockCount int `json:"parallel_block_count"`
}

// ParseResult is the outcome of a single Parse call. Root is present iff
// Success is true.
type ParseResult struct {
	Success  bool
	Root     *types.Node
	Errors   []string
	Metadata Metadata
}

// Parser converts declarative workflow documents into typed node trees.
// Parsing is purely structural: referenced task and tool names are checked
// later by the validator. A Parser may be reused; node IDs restart at
// node_1 on every Parse call.
type Parser struct {
	nextID int
	errs   []string
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseYAML decodes a YAML (or JSON, which YAML subsumes) document and
// parses it.
func ParseYAML(data []byte) ParseResult {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ParseResult{Errors: []string{fmt.Sprintf("invalid document: %v", err)}}
	}
	return NewParser().Parse(doc)
}

// ParseJSON decodes a JSON document and parses it.
func ParseJSON(data []byte) ParseResult {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return ParseResult{Errors: []string{fmt.Sprintf("invalid document: %v", err)}}
	}
	return NewParser().Parse(doc)
}

// Parse converts a decoded document into a node tree. The root of a
// successful parse is always a SEQUENCE: a bare block is wrapped in an
// implicit one, and a bare list becomes the root sequence's children.
func (p *Parser) Parse(document any) ParseResult {
	p.nextID = 0
	p.errs = nil

	var root *types.Node
	switch doc := document.(type) {
	case nil:
		p.errorf("document is empty")
	case []any:
		root = p.newNode(types.NodeSequence, nil)
		root.Children = p.parseBlocks(doc)
	case map[string]any:
		if _, ok := doc["sequence"]; ok {
			root = p.parseBlock(doc)
		} else {
			root = p.newNode(types.NodeSequence, nil)
			if child := p.parseBlock(doc); child != nil {
				root.Children = []*types.Node{child}
			}
		}
	default:
		p.errorf("document must be a map or a list, got %T", document)
	}

	if len(p.errs) > 0 {
		return ParseResult{Success: false, Errors: p.errs}
	}

	parallels := 0
	root.Walk(func(n *types.Node) bool {
		if n.Type == types.NodeParallel {
			parallels++
		}
		return true
	})
	return ParseResult{
		Success: true,
		Root:    root,
		Metadata: Metadata{
			NodeCount:          root.Count(),
			MaxDepth:           root.Depth(),
			ParallelBlockCount: parallels,
		},
	}
}

func (p *Parser) newNode(t types.NodeType, config map[string]any) *types.Node {
	p.nextID++
	if config == nil {
		config = map[string]any{}
	}
	return &types.Node{
		ID:     fmt.Sprintf("node_%d", p.nextID),
		Type:   t,
		Config: config,
	}
}

func (p *Parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *Parser) parseBlocks(list []any) []*types.Node {
	children := make([]*types.Node, 0, len(list))
	for _, item := range list {
		if child := p.parseBlock(item); child != nil {
			children = append(children, child)
		}
	}
	return children
}

func (p *Parser) parseBlock(block any) *types.Node {
	switch b := block.(type) {
	case []any:
		// Bare list at any nesting level: implicit sequence.
		n := p.newNode(types.NodeSequence, nil)
		n.Children = p.parseBlocks(b)
		return n
	case map[string]any:
		switch {
		case hasKey(b, "task"):
			return p.parseTask(b)
		case hasKey(b, "sequence"):
			return p.parseSequence(b)
		case hasKey(b, "parallel"):
			return p.parseParallel(b)
		case hasKey(b, "if"):
			return p.parseCondition(b)
		case hasKey(b, "loop"):
			return p.parseLoop(b)
		case hasKey(b, "wait"):
			return p.parseWait(b)
		default:
			p.errorf("unrecognized block shape (keys: %s)", keyList(b))
			return nil
		}
	default:
		p.errorf("block must be a map or a list, got %T", block)
		return nil
	}
}

func (p *Parser) parseTask(b map[string]any) *types.Node {
	if bad := unknownKeys(b, "task", "tools", "parameters", "timeout"); bad != "" {
		p.errorf("unknown key %s in task block", bad)
		return nil
	}

	name, ok := b["task"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		p.errorf("task block requires a non-empty string name")
		return nil
	}

	config := map[string]any{types.CfgTaskName: name}
	if raw, ok := b["tools"]; ok {
		tools, err := stringList(raw)
		if err != nil {
			p.errorf("task %q: tools %v", name, err)
			return nil
		}
		config[types.CfgTools] = tools
	}
	if raw, ok := b["parameters"]; ok {
		params, isMap := raw.(map[string]any)
		if !isMap {
			p.errorf("task %q: parameters must be a map, got %T", name, raw)
			return nil
		}
		config[types.CfgParameters] = params
	}
	if raw, ok := b["timeout"]; ok {
		timeout, isNum := asFloat(raw)
		if !isNum || timeout <= 0 {
			p.errorf("task %q: timeout must be a positive number", name)
			return nil
		}
		config[types.CfgTimeout] = timeout
	}
	return p.newNode(types.NodeTask, config)
}

func (p *Parser) parseSequence(b map[string]any) *types.Node {
	if bad := unknownKeys(b, "sequence"); bad != "" {
		p.errorf("unknown key %s in sequence block", bad)
		return nil
	}
	list, ok := b["sequence"].([]any)
	if !ok {
		p.errorf("sequence block requires a list of blocks, got %T", b["sequence"])
		return nil
	}
	n := p.newNode(types.NodeSequence, nil)
	n.Children = p.parseBlocks(list)
	return n
}

func (p *Parser) parseParallel(b map[string]any) *types.Node {
	if bad := unknownKeys(b, "parallel", "max_concurrency", "wait_for_all", "fail_fast"); bad != "" {
		p.errorf("unknown key %s in parallel block", bad)
		return nil
	}
	list, ok := b["parallel"].([]any)
	if !ok {
		p.errorf("parallel block requires a list of branches, got %T", b["parallel"])
		return nil
	}

	config := map[string]any{
		types.CfgWaitForAll: true,
		types.CfgFailFast:   false,
	}
	if raw, ok := b["max_concurrency"]; ok {
		mc, isNum := asFloat(raw)
		if !isNum || mc < 1 || mc != float64(int(mc)) {
			p.errorf("parallel block: max_concurrency must be a positive integer")
			return nil
		}
		config[types.CfgMaxConcurrency] = int(mc)
	}
	if raw, ok := b["wait_for_all"]; ok {
		flag, isBool := raw.(bool)
		if !isBool {
			p.errorf("parallel block: wait_for_all must be a boolean")
			return nil
		}
		config[types.CfgWaitForAll] = flag
	}
	if raw, ok := b["fail_fast"]; ok {
		flag, isBool := raw.(bool)
		if !isBool {
			p.errorf("parallel block: fail_fast must be a boolean")
			return nil
		}
		config[types.CfgFailFast] = flag
	}

	n := p.newNode(types.NodeParallel, config)
	n.Children = p.parseBlocks(list)
	return n
}

// parseCondition yields a CONDITION node with exactly two SEQUENCE
// children: the then branch and the else branch (empty when omitted).
func (p *Parser) parseCondition(b map[string]any) *types.Node {
	if bad := unknownKeys(b, "if", "then", "else"); bad != "" {
		p.errorf("unknown key %s in if block", bad)
		return nil
	}

	cond, ok := b["if"].(string)
	if !ok {
		p.errorf("if block requires a condition string, got %T", b["if"])
		return nil
	}
	if err := CheckConditionSyntax(cond); err != nil {
		p.errorf("if block: invalid condition %q: %v", cond, err)
		return nil
	}

	thenRaw, ok := b["then"]
	if !ok {
		p.errorf("if block requires a then branch")
		return nil
	}
	thenList, ok := thenRaw.([]any)
	if !ok {
		p.errorf("if block: then must be a list of blocks, got %T", thenRaw)
		return nil
	}
	var elseList []any
	if elseRaw, present := b["else"]; present {
		elseList, ok = elseRaw.([]any)
		if !ok {
			p.errorf("if block: else must be a list of blocks, got %T", elseRaw)
			return nil
		}
	}

	n := p.newNode(types.NodeCondition, map[string]any{
		types.CfgCondition:     cond,
		types.CfgConditionType: string(ClassifyCondition(cond)),
	})
	thenNode := p.newNode(types.NodeSequence, nil)
	thenNode.Children = p.parseBlocks(thenList)
	elseNode := p.newNode(types.NodeSequence, nil)
	elseNode.Children = p.parseBlocks(elseList)
	n.Children = []*types.Node{thenNode, elseNode}
	return n
}

func (p *Parser) parseLoop(b map[string]any) *types.Node {
	if bad := unknownKeys(b, "loop"); bad != "" {
		p.errorf("unknown key %s in loop block", bad)
		return nil
	}
	spec, ok := b["loop"].(map[string]any)
	if !ok {
		p.errorf("loop block requires a map, got %T", b["loop"])
		return nil
	}
	if bad := unknownKeys(spec, "condition", "max_iterations", "body"); bad != "" {
		p.errorf("unknown key %s in loop block", bad)
		return nil
	}

	cond, ok := spec["condition"].(string)
	if !ok {
		p.errorf("loop block requires a condition string")
		return nil
	}
	if err := CheckConditionSyntax(cond); err != nil {
		p.errorf("loop block: invalid condition %q: %v", cond, err)
		return nil
	}

	// max_iterations is a hard safety cap, independent of the condition.
	maxRaw, ok := spec["max_iterations"]
	if !ok {
		p.errorf("loop block requires max_iterations")
		return nil
	}
	maxIter, isNum := asFloat(maxRaw)
	if !isNum || maxIter < 1 || maxIter != float64(int(maxIter)) {
		p.errorf("loop block: max_iterations must be a positive integer")
		return nil
	}

	bodyRaw, ok := spec["body"]
	if !ok {
		p.errorf("loop block requires a body")
		return nil
	}
	bodyList, ok := bodyRaw.([]any)
	if !ok {
		p.errorf("loop block: body must be a list of blocks, got %T", bodyRaw)
		return nil
	}

	n := p.newNode(types.NodeLoop, map[string]any{
		types.CfgCondition:     cond,
		types.CfgConditionType: string(ClassifyCondition(cond)),
		types.CfgMaxIterations: int(maxIter),
	})
	body := p.newNode(types.NodeSequence, nil)
	body.Children = p.parseBlocks(bodyList)
	n.Children = []*types.Node{body}
	return n
}

func (p *Parser) parseWait(b map[string]any) *types.Node {
	if bad := unknownKeys(b, "wait"); bad != "" {
		p.errorf("unknown key %s in wait block", bad)
		return nil
	}
	spec, ok := b["wait"].(map[string]any)
	if !ok {
		p.errorf("wait block requires a map, got %T", b["wait"])
		return nil
	}
	if bad := unknownKeys(spec, "condition", "timeout", "poll_interval"); bad != "" {
		p.errorf("unknown key %s in wait block", bad)
		return nil
	}

	cond, ok := spec["condition"].(string)
	if !ok {
		p.errorf("wait block requires a condition string")
		return nil
	}
	if err := CheckConditionSyntax(cond); err != nil {
		p.errorf("wait block: invalid condition %q: %v", cond, err)
		return nil
	}
	timeout, isNum := asFloat(spec["timeout"])
	if !isNum || timeout <= 0 {
		p.errorf("wait block: timeout must be a positive number")
		return nil
	}
	pollInterval := 1.0
	if raw, present := spec["poll_interval"]; present {
		pollInterval, isNum = asFloat(raw)
		if !isNum || pollInterval <= 0 {
			p.errorf("wait block: poll_interval must be a positive number")
			return nil
		}
	}

	return p.newNode(types.NodeWait, map[string]any{
		types.CfgCondition:     cond,
		types.CfgConditionType: string(ClassifyCondition(cond)),
		types.CfgTimeout:       timeout,
		types.CfgPollInterval:  pollInterval,
	})
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// unknownKeys returns the first key of m not in allowed, quoted, or "".
func unknownKeys(m map[string]any, allowed ...string) string {
	for key := range m {
		found := false
		for _, ok := range allowed {
			if key == ok {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("%q", key)
		}
	}
	return ""
}

func keyList(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return strings.Join(keys, ", ")
}

func stringList(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list of strings, got %T", raw)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("must contain only strings, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func asFloat(raw any) (float64, bool) {
	switch num := raw.(type) {
	case float64:
		return num, true
	case float32:
		return float64(num), true
	case int:
		return float64(num), true
	case int64:
		return float64(num), true
	}
	return 0, false
}
