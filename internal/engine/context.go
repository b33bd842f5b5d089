package engine

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/avi3tal/stepflow/internal/types"
)

// ExecutionContext is the live state of one workflow run. Task results
// are append-only, keyed by task name, and safe for concurrent writers
// from parallel branches. A context belongs to exactly one run.
type ExecutionContext struct {
	WorkflowID  string
	ExecutionID string

	mu         sync.RWMutex
	results    map[string]map[string]any
	variables  map[string]any
	nodeStates map[string]types.NodeState
	cancelled  atomic.Bool
}

// NewExecutionContext creates a run context seeded with the caller's
// variables.
func NewExecutionContext(workflowID string, variables map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(variables))
	for name, value := range variables {
		vars[name] = value
	}
	return &ExecutionContext{
		WorkflowID:  workflowID,
		ExecutionID: uuid.New().String(),
		results:     make(map[string]map[string]any),
		variables:   vars,
		nodeStates:  make(map[string]types.NodeState),
	}
}

// SetResult records a task's result map. Written once per task on
// completion.
func (ec *ExecutionContext) SetResult(taskName string, result map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if result == nil {
		result = map[string]any{}
	}
	ec.results[taskName] = result
}

// Result returns the recorded result of a task.
func (ec *ExecutionContext) Result(taskName string) (map[string]any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	result, ok := ec.results[taskName]
	return result, ok
}

// HasResult reports whether a task has recorded a result.
func (ec *ExecutionContext) HasResult(taskName string) bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	_, ok := ec.results[taskName]
	return ok
}

// Variable returns a context variable.
func (ec *ExecutionContext) Variable(name string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	value, ok := ec.variables[name]
	return value, ok
}

// SetVariable writes a context variable. During execution only the LOOP
// iteration counter is written this way.
func (ec *ExecutionContext) SetVariable(name string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[name] = value
}

// NodeState returns the current state of a node.
func (ec *ExecutionContext) NodeState(nodeID string) types.NodeState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.nodeStates[nodeID]
}

// SetNodeState transitions a node's state.
func (ec *ExecutionContext) SetNodeState(nodeID string, state types.NodeState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeStates[nodeID] = state
}

// NodeStates returns a snapshot of all node states.
func (ec *ExecutionContext) NodeStates() map[string]types.NodeState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	states := make(map[string]types.NodeState, len(ec.nodeStates))
	for id, state := range ec.nodeStates {
		states[id] = state
	}
	return states
}

// CountState returns how many nodes are currently in the given state.
func (ec *ExecutionContext) CountState(state types.NodeState) int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	count := 0
	for _, s := range ec.nodeStates {
		if s == state {
			count++
		}
	}
	return count
}

// Cancel sets the cooperative cancellation flag. Dispatch loops check it
// before starting any further work.
func (ec *ExecutionContext) Cancel() {
	ec.cancelled.Store(true)
}

// Cancelled reports whether the run was cancelled.
func (ec *ExecutionContext) Cancelled() bool {
	return ec.cancelled.Load()
}

// Lookup resolves a dotted path rooted at result./results. (task result
// maps) or context. (variables) to arbitrary depth.
func (ec *ExecutionContext) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return nil, false
	}

	ec.mu.RLock()
	defer ec.mu.RUnlock()

	var current any
	switch segments[0] {
	case "result", "results":
		result, ok := ec.results[segments[1]]
		if !ok {
			return nil, false
		}
		current = any(result)
	case "context":
		value, ok := ec.variables[segments[1]]
		if !ok {
			return nil, false
		}
		current = value
	default:
		return nil, false
	}

	for _, segment := range segments[2:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[segment]; !ok {
			return nil, false
		}
	}
	return current, true
}
