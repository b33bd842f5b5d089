package validate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/avi3tal/stepflow/internal/types"
)

// TaskSpec describes one externally available task.
type TaskSpec struct {
	// EstimatedDuration is the expected run time in seconds.
	EstimatedDuration float64
}

// Limits carries the resource ceilings a workflow is validated against.
type Limits struct {
	// MaxExecutionDuration is the advisory ceiling for the whole plan, in
	// seconds. Zero disables the check.
	MaxExecutionDuration float64
	// MaxParallelTasks is the advisory ceiling on simultaneous branches.
	// Zero disables the check.
	MaxParallelTasks int
}

// Catalog is the externally supplied world a tree is validated against.
type Catalog struct {
	Tasks  map[string]TaskSpec
	Tools  []string
	Limits Limits
}

// Validator produces structural and semantic reports for parsed trees.
type Validator struct {
	logger            *zap.Logger
	dangerousPatterns []string
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for advisory output.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithDangerousPatterns replaces the default dangerous-tool pattern set.
func WithDangerousPatterns(patterns []string) Option {
	return func(v *Validator) {
		v.dangerousPatterns = patterns
	}
}

// NewValidator creates a Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		logger:            zap.NewNop(),
		dangerousPatterns: DefaultDangerousPatterns,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks a parsed tree against the catalog and produces the full
// report: dependency graph, cycle check, resource and security findings,
// duration estimate and execution order.
func (v *Validator) Validate(root *types.Node, catalog Catalog) Result {
	if root == nil || root.Count() <= 1 && len(rootTasks(root)) == 0 {
		return Result{
			Issues: []Issue{{
				Severity: SeverityError,
				Message:  "no nodes available for validation",
			}},
			DependencyGraph: map[string][]string{},
		}
	}

	result := Result{DependencyGraph: BuildDependencyGraph(root)}

	result.Issues = append(result.Issues, CycleIssues(result.DependencyGraph)...)

	result.Issues = append(result.Issues, v.resourceIssues(root, catalog)...)

	est := &estimator{tasks: catalog.Tasks}
	result.EstimatedDuration = est.estimate(root)
	result.Issues = append(result.Issues, est.issues...)
	if limit := catalog.Limits.MaxExecutionDuration; limit > 0 && result.EstimatedDuration > limit {
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message: fmt.Sprintf("estimated duration %.1fs exceeds limit %.1fs",
				result.EstimatedDuration, limit),
			NodeID: root.ID,
		})
	}

	result.ExecutionOrder = topologicalOrder(result.DependencyGraph)
	result.ParallelGroups = parallelGroups(root)

	result.IsValid = len(result.Errors()) == 0
	v.logger.Debug("workflow validated",
		zap.String("root", root.ID),
		zap.Bool("is_valid", result.IsValid),
		zap.Int("issues", len(result.Issues)),
		zap.Float64("estimated_duration", result.EstimatedDuration))
	return result
}

// resourceIssues checks every TASK against the catalog and every PARALLEL
// fan-out against the limits, and runs the security audit.
func (v *Validator) resourceIssues(root *types.Node, catalog Catalog) []Issue {
	tools := make(map[string]bool, len(catalog.Tools))
	for _, tool := range catalog.Tools {
		tools[tool] = true
	}

	var issues []Issue
	root.Walk(func(n *types.Node) bool {
		switch n.Type {
		case types.NodeTask:
			name := n.TaskName()
			if _, known := catalog.Tasks[name]; !known {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Message:  fmt.Sprintf("task '%s' not available", name),
					NodeID:   n.ID,
				})
			}
			for _, tool := range n.Tools() {
				if !tools[tool] {
					issues = append(issues, Issue{
						Severity: SeverityError,
						Message:  fmt.Sprintf("tool '%s' not available", tool),
						NodeID:   n.ID,
					})
				}
			}
			issues = append(issues, securityIssues(n, v.dangerousPatterns)...)
		case types.NodeParallel:
			limit := catalog.Limits.MaxParallelTasks
			if limit <= 0 {
				return true
			}
			concurrency, bounded := n.IntConfig(types.CfgMaxConcurrency)
			if !bounded || concurrency > limit {
				concurrency = len(n.Children)
			}
			if concurrency > limit {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Message: fmt.Sprintf("parallel block admits %d simultaneous branches, above max_parallel_tasks %d",
						concurrency, limit),
					NodeID: n.ID,
				})
			}
		}
		return true
	})
	return issues
}

// parallelGroups lists, per PARALLEL block, the batches of child node ids
// that may run concurrently, chunked by max_concurrency.
func parallelGroups(root *types.Node) [][]string {
	var groups [][]string
	root.Walk(func(n *types.Node) bool {
		if n.Type != types.NodeParallel || len(n.Children) == 0 {
			return true
		}
		ids := make([]string, len(n.Children))
		for i, child := range n.Children {
			ids[i] = child.ID
		}
		limit, bounded := n.IntConfig(types.CfgMaxConcurrency)
		if !bounded || limit <= 0 || limit >= len(ids) {
			groups = append(groups, ids)
			return true
		}
		for start := 0; start < len(ids); start += limit {
			end := start + limit
			if end > len(ids) {
				end = len(ids)
			}
			groups = append(groups, ids[start:end])
		}
		return true
	})
	return groups
}

func rootTasks(root *types.Node) []string {
	var tasks []string
	root.Walk(func(n *types.Node) bool {
		if n.Type == types.NodeTask {
			tasks = append(tasks, n.ID)
		}
		return true
	})
	return tasks
}
