package workflow

import (
	"fmt"
	"strings"

	"github.com/avi3tal/stepflow/internal/types"
)

// Visualize renders a parsed tree as an indented outline, one node per
// line, for debugging and docs.
func Visualize(n *types.Node) string {
	var b strings.Builder
	writeNode(&b, n, 0)
	return b.String()
}

func writeNode(b *strings.Builder, n *types.Node, depth int) {
	if n == nil {
		return
	}
	fmt.Fprintf(b, "%s- [%s] %s%s\n", strings.Repeat("  ", depth), n.Type, n.ID, nodeSummary(n))
	for _, child := range n.Children {
		writeNode(b, child, depth+1)
	}
}

func nodeSummary(n *types.Node) string {
	switch n.Type {
	case types.NodeTask:
		summary := " " + n.TaskName()
		if tools := n.Tools(); len(tools) > 0 {
			summary += fmt.Sprintf(" (tools: %s)", strings.Join(tools, ", "))
		}
		return summary
	case types.NodeParallel:
		if mc, ok := n.IntConfig(types.CfgMaxConcurrency); ok {
			return fmt.Sprintf(" max_concurrency=%d", mc)
		}
		return ""
	case types.NodeCondition, types.NodeWait:
		cond, _ := n.StringConfig(types.CfgCondition)
		return fmt.Sprintf(" if %s", cond)
	case types.NodeLoop:
		cond, _ := n.StringConfig(types.CfgCondition)
		maxIter, _ := n.IntConfig(types.CfgMaxIterations)
		return fmt.Sprintf(" while %s (max %d)", cond, maxIter)
	default:
		return ""
	}
}
