package validate

import (
	"fmt"

	"github.com/avi3tal/stepflow/internal/types"
)

// defaultTaskDuration is assumed for tasks the catalog declares no
// duration estimate for.
const defaultTaskDuration = 1.0

type estimator struct {
	tasks  map[string]TaskSpec
	issues []Issue
}

// estimate computes the worst-case duration of a subtree in seconds.
func (e *estimator) estimate(n *types.Node) float64 {
	switch n.Type {
	case types.NodeTask:
		return e.taskDuration(n)
	case types.NodeSequence:
		total := 0.0
		for _, child := range n.Children {
			total += e.estimate(child)
		}
		return total
	case types.NodeParallel:
		return e.parallelDuration(n)
	case types.NodeCondition:
		longest := 0.0
		for _, child := range n.Children {
			if d := e.estimate(child); d > longest {
				longest = d
			}
		}
		return longest
	case types.NodeLoop:
		// The hard iteration cap is the only static bound.
		maxIter, _ := n.IntConfig(types.CfgMaxIterations)
		body := 0.0
		for _, child := range n.Children {
			body += e.estimate(child)
		}
		return body * float64(maxIter)
	case types.NodeWait:
		timeout, _ := n.FloatConfig(types.CfgTimeout)
		return timeout
	default:
		return 0
	}
}

func (e *estimator) taskDuration(n *types.Node) float64 {
	name := n.TaskName()
	spec, known := e.tasks[name]
	if !known || spec.EstimatedDuration <= 0 {
		e.issues = append(e.issues, Issue{
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("no duration estimate for task '%s'; assuming %.0fs", name, defaultTaskDuration),
			NodeID:   n.ID,
		})
		return defaultTaskDuration
	}
	return spec.EstimatedDuration
}

// parallelDuration bounds a parallel block by max_concurrency batching:
// children are admitted in document order, so the estimate is the sum of
// each batch's slowest child.
func (e *estimator) parallelDuration(n *types.Node) float64 {
	durations := make([]float64, len(n.Children))
	for i, child := range n.Children {
		durations[i] = e.estimate(child)
	}

	limit, bounded := n.IntConfig(types.CfgMaxConcurrency)
	if !bounded || limit <= 0 || limit >= len(durations) {
		longest := 0.0
		for _, d := range durations {
			if d > longest {
				longest = d
			}
		}
		return longest
	}

	total := 0.0
	for start := 0; start < len(durations); start += limit {
		end := start + limit
		if end > len(durations) {
			end = len(durations)
		}
		batchMax := 0.0
		for _, d := range durations[start:end] {
			if d > batchMax {
				batchMax = d
			}
		}
		total += batchMax
	}
	return total
}
