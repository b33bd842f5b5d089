package types

// NodeType identifies the kind of a workflow node.
type NodeType string

const (
	NodeTask      NodeType = "task"
	NodeSequence  NodeType = "sequence"
	NodeParallel  NodeType = "parallel"
	NodeCondition NodeType = "condition"
	NodeLoop      NodeType = "loop"
	NodeWait      NodeType = "wait"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTask, NodeSequence, NodeParallel, NodeCondition, NodeLoop, NodeWait:
		return true
	}
	return false
}

// Config keys shared by the parser, validator and executor.
const (
	CfgTaskName       = "task_name"
	CfgTools          = "tools"
	CfgParameters     = "parameters"
	CfgTimeout        = "timeout"
	CfgCondition      = "condition"
	CfgConditionType  = "condition_type"
	CfgMaxIterations  = "max_iterations"
	CfgMaxConcurrency = "max_concurrency"
	CfgWaitForAll     = "wait_for_all"
	CfgFailFast       = "fail_fast"
	CfgPollInterval   = "poll_interval"
)

// Node is one typed unit of a parsed workflow tree. A node owns its
// children exclusively; the tree is immutable after parsing.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

// Walk visits n and every descendant in document order. Returning false
// from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Depth returns the height of the subtree rooted at n (1 for a leaf).
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, child := range n.Children {
		if d := child.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// StringConfig returns a string config value.
func (n *Node) StringConfig(key string) (string, bool) {
	v, ok := n.Config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FloatConfig returns a numeric config value, coercing the integer types
// that YAML and JSON decoders produce.
func (n *Node) FloatConfig(key string) (float64, bool) {
	v, ok := n.Config[key]
	if !ok {
		return 0, false
	}
	switch num := v.(type) {
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

// IntConfig returns an integer config value.
func (n *Node) IntConfig(key string) (int, bool) {
	f, ok := n.FloatConfig(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// BoolConfig returns a boolean config value, or def when absent.
func (n *Node) BoolConfig(key string, def bool) bool {
	v, ok := n.Config[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// TaskName returns the task name of a TASK node.
func (n *Node) TaskName() string {
	name, _ := n.StringConfig(CfgTaskName)
	return name
}

// Tools returns the tool identifiers of a TASK node. Both []string and
// the []any a JSON round trip produces are accepted.
func (n *Node) Tools() []string {
	v, ok := n.Config[CfgTools]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		tools := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				tools = append(tools, s)
			}
		}
		return tools
	}
	return nil
}

// Parameters returns the parameter map of a TASK node, never nil.
func (n *Node) Parameters() map[string]any {
	if params, ok := n.Config[CfgParameters].(map[string]any); ok {
		return params
	}
	return map[string]any{}
}
