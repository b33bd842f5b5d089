package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/avi3tal/stepflow/internal/types"
)

// BuildDependencyGraph maps every node id in the tree to the ids that
// must complete before it may start. A SEQUENCE chains its children, a
// PARALLEL fans its children out from the block's own prerequisites, and
// CONDITION/LOOP containers pass their position's prerequisites through
// to their children.
func BuildDependencyGraph(root *types.Node) map[string][]string {
	graph := make(map[string][]string)
	var assign func(n *types.Node, deps []string)
	assign = func(n *types.Node, deps []string) {
		graph[n.ID] = append([]string(nil), deps...)
		switch n.Type {
		case types.NodeSequence:
			prev := deps
			for _, child := range n.Children {
				assign(child, prev)
				prev = []string{child.ID}
			}
		default:
			for _, child := range n.Children {
				assign(child, deps)
			}
		}
	}
	if root != nil {
		assign(root, nil)
	}
	return graph
}

// DetectCycles reports every dependency cycle in a graph of node id ->
// prerequisite ids. Tree-derived graphs are acyclic by construction; this
// exists so externally assembled graphs can be checked too.
func DetectCycles(graph map[string][]string) [][]string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(graph))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range graph[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				start := 0
				for i, onStack := range stack {
					if onStack == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), dep)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range sortedIDs(graph) {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// CycleIssues converts every cycle in a dependency graph into an ERROR
// issue.
func CycleIssues(graph map[string][]string) []Issue {
	var issues []Issue
	for _, cycle := range DetectCycles(graph) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
			NodeID:   cycle[0],
		})
	}
	return issues
}

// topologicalOrder returns every node id so that prerequisites come
// first. Ties break on document order (the numeric id suffix). On a
// cyclic graph the unorderable remainder is appended in document order.
func topologicalOrder(graph map[string][]string) []string {
	indegree := make(map[string]int, len(graph))
	dependents := make(map[string][]string, len(graph))
	for id, deps := range graph {
		for _, dep := range deps {
			if _, known := graph[dep]; !known {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, id := range sortedIDs(graph) {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(graph))
	for len(ready) > 0 {
		sortIDs(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) < len(graph) {
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for _, id := range sortedIDs(graph) {
			if !seen[id] {
				order = append(order, id)
			}
		}
	}
	return order
}

func sortedIDs(graph map[string][]string) []string {
	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		ni, iOK := idNumber(ids[i])
		nj, jOK := idNumber(ids[j])
		if iOK && jOK {
			return ni < nj
		}
		return ids[i] < ids[j]
	})
}

func idNumber(id string) (int, bool) {
	idx := strings.LastIndexByte(id, '_')
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
