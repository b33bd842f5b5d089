package validate

// Severity ranks a validation issue. Only ERROR issues block execution.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding produced while validating a workflow tree.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
}

// Result is the full validation report for one tree. IsValid is true iff
// no ERROR issues were found.
type Result struct {
	IsValid           bool                `json:"is_valid"`
	Issues            []Issue             `json:"issues"`
	DependencyGraph   map[string][]string `json:"dependency_graph"`
	ExecutionOrder    []string            `json:"execution_order"`
	ParallelGroups    [][]string          `json:"parallel_groups"`
	EstimatedDuration float64             `json:"estimated_duration"`
}

// Errors returns only the ERROR issues.
func (r Result) Errors() []Issue {
	var errs []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}
