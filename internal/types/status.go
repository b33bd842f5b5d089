package types

// NodeState represents the execution state of a single node.
type NodeState string

const (
	StatePending   NodeState = "pending"
	StateRunning   NodeState = "running"
	StateCompleted NodeState = "completed"
	StateFailed    NodeState = "failed"
	StateCancelled NodeState = "cancelled"
	StateTimedOut  NodeState = "timed_out"
)

// Terminal reports whether the state is one a node cannot leave.
func (s NodeState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// RunStatus is the terminal status of a whole workflow run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
	RunCancelled RunStatus = "cancelled"
)
