package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/avi3tal/stepflow/internal/types"
)

// TaskBackend is the engine's only external collaborator: it performs one
// named unit of work given tools and resolved parameters.
type TaskBackend interface {
	ExecuteTask(ctx context.Context, taskName string, tools []string, parameters map[string]any) (map[string]any, error)
}

// ExecutionResult is the terminal outcome of one ExecuteWorkflow call.
type ExecutionResult struct {
	Status         types.RunStatus `json:"status"`
	WorkflowID     string          `json:"workflow_id"`
	TotalNodes     int             `json:"total_node_count"`
	CompletedNodes int             `json:"completed_node_count"`
	Error          string          `json:"error,omitempty"`
}

// Executor walks a parsed tree, resolving variables and evaluating
// conditions, and dispatches task execution to the injected backend.
type Executor struct {
	backend TaskBackend
	logger  *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for run output.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor over the given task backend.
func NewExecutor(backend TaskBackend, opts ...Option) *Executor {
	e := &Executor{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CancelExecution sets the run's cooperative cancellation flag. Every
// dispatch loop checks it before starting further work; nodes never
// started end CANCELLED.
func (e *Executor) CancelExecution(ec *ExecutionContext) {
	ec.Cancel()
}

// ExecuteWorkflow runs a tree to a terminal status. A timeout > 0 bounds
// the whole run and races in-flight backend calls, yielding TIMED_OUT
// distinct from a task-level failure.
func (e *Executor) ExecuteWorkflow(ctx context.Context, root *types.Node, ec *ExecutionContext, timeout time.Duration) *ExecutionResult {
	result := &ExecutionResult{WorkflowID: ec.WorkflowID}
	if root == nil {
		result.Status = types.RunFailed
		result.Error = "workflow has no root node"
		return result
	}
	result.TotalNodes = root.Count()

	root.Walk(func(n *types.Node) bool {
		ec.SetNodeState(n.ID, types.StatePending)
		return true
	})

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger.Info("workflow started",
		zap.String("workflow_id", ec.WorkflowID),
		zap.String("execution_id", ec.ExecutionID),
		zap.Int("nodes", result.TotalNodes))

	err := e.executeNode(runCtx, root, ec)

	if ec.Cancelled() || runCtx.Err() != nil {
		root.Walk(func(n *types.Node) bool {
			if ec.NodeState(n.ID) == types.StatePending {
				ec.SetNodeState(n.ID, types.StateCancelled)
			}
			return true
		})
	}

	result.CompletedNodes = ec.CountState(types.StateCompleted)
	switch {
	case ec.Cancelled():
		result.Status = types.RunCancelled
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = types.RunTimedOut
		result.Error = "workflow timed out"
	case runCtx.Err() != nil:
		result.Status = types.RunCancelled
	case err != nil:
		result.Status = types.RunFailed
		result.Error = err.Error()
	default:
		result.Status = types.RunCompleted
	}

	e.logger.Info("workflow finished",
		zap.String("workflow_id", ec.WorkflowID),
		zap.String("status", string(result.Status)),
		zap.Int("completed", result.CompletedNodes))
	return result
}

func (e *Executor) executeNode(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	if ec.Cancelled() {
		ec.SetNodeState(n.ID, types.StateCancelled)
		return nil
	}
	if err := ctx.Err(); err != nil {
		ec.SetNodeState(n.ID, ctxState(err))
		return nil
	}

	ec.SetNodeState(n.ID, types.StateRunning)
	e.logger.Debug("node started", zap.String("node", n.ID), zap.String("type", string(n.Type)))

	switch n.Type {
	case types.NodeTask:
		return e.executeTask(ctx, n, ec)
	case types.NodeSequence:
		return e.executeSequence(ctx, n, ec)
	case types.NodeParallel:
		return e.executeParallel(ctx, n, ec)
	case types.NodeCondition:
		return e.executeCondition(ctx, n, ec)
	case types.NodeLoop:
		return e.executeLoop(ctx, n, ec)
	case types.NodeWait:
		return e.executeWait(ctx, n, ec)
	default:
		ec.SetNodeState(n.ID, types.StateFailed)
		return errors.Errorf("unknown node type %q", n.Type)
	}
}

// executeTask resolves parameter templates and invokes the backend on a
// goroutine so the node deadline (and the run deadline above it) races
// the in-flight call instead of waiting for it.
func (e *Executor) executeTask(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	name := n.TaskName()
	params := ResolveParameters(n.Parameters(), ec)

	taskCtx := ctx
	if timeout, ok := n.FloatConfig(types.CfgTimeout); ok && timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, seconds(timeout))
		defer cancel()
	}

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.backend.ExecuteTask(taskCtx, name, n.Tools(), params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			ec.SetNodeState(n.ID, types.StateFailed)
			e.logger.Warn("task failed",
				zap.String("node", n.ID),
				zap.String("task", name),
				zap.Error(out.err))
			return errors.Wrapf(out.err, "task %s", name)
		}
		ec.SetResult(name, out.result)
		ec.SetNodeState(n.ID, types.StateCompleted)
		return nil
	case <-taskCtx.Done():
		ec.SetNodeState(n.ID, ctxState(taskCtx.Err()))
		return errors.Wrapf(taskCtx.Err(), "task %s", name)
	}
}

// executeSequence runs children strictly in order. A child's completion,
// success or failure, gates the next child's start; a failure is recorded
// without stopping the remaining children.
func (e *Executor) executeSequence(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	var firstErr error
	for _, child := range n.Children {
		if ec.Cancelled() {
			ec.SetNodeState(n.ID, types.StateCancelled)
			return firstErr
		}
		if err := ctx.Err(); err != nil {
			ec.SetNodeState(n.ID, ctxState(err))
			return firstErr
		}
		if err := e.executeNode(ctx, child, ec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		ec.SetNodeState(n.ID, types.StateFailed)
		return firstErr
	}
	ec.SetNodeState(n.ID, types.StateCompleted)
	return nil
}

// executeParallel launches children concurrently under an admission
// semaphore bounded by max_concurrency. With fail_fast the first failed
// child cancels its sibling set; without wait_for_all the block stops
// admitting once the first child reaches a terminal state. In-flight
// children are always joined before the node returns.
func (e *Executor) executeParallel(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	if len(n.Children) == 0 {
		ec.SetNodeState(n.ID, types.StateCompleted)
		return nil
	}

	limit := len(n.Children)
	if mc, ok := n.IntConfig(types.CfgMaxConcurrency); ok && mc > 0 && mc < limit {
		limit = mc
	}
	failFast := n.BoolConfig(types.CfgFailFast, false)
	waitForAll := n.BoolConfig(types.CfgWaitForAll, true)

	branchCtx, cancelBranches := context.WithCancel(ctx)
	defer cancelBranches()

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	var terminal atomic.Int32

	for _, child := range n.Children {
		if ec.Cancelled() || branchCtx.Err() != nil {
			ec.SetNodeState(child.ID, types.StateCancelled)
			continue
		}
		if !waitForAll && terminal.Load() > 0 {
			cancelBranches()
			ec.SetNodeState(child.ID, types.StateCancelled)
			continue
		}
		if err := sem.Acquire(branchCtx, 1); err != nil {
			ec.SetNodeState(child.ID, types.StateCancelled)
			continue
		}
		wg.Add(1)
		go func(c *types.Node) {
			defer wg.Done()
			defer sem.Release(1)
			err := e.executeNode(branchCtx, c, ec)
			terminal.Add(1)
			// A branch cut short by sibling cancellation is not a failure.
			if err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				if failFast {
					cancelBranches()
				}
			}
		}(child)
	}
	wg.Wait()

	switch {
	case ec.Cancelled():
		ec.SetNodeState(n.ID, types.StateCancelled)
	case firstErr != nil:
		ec.SetNodeState(n.ID, types.StateFailed)
	case ctx.Err() != nil:
		ec.SetNodeState(n.ID, ctxState(ctx.Err()))
	default:
		ec.SetNodeState(n.ID, types.StateCompleted)
	}
	return firstErr
}

// executeCondition evaluates the node's condition against the live
// context and runs the then branch on true, the else branch otherwise.
func (e *Executor) executeCondition(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	if len(n.Children) != 2 {
		ec.SetNodeState(n.ID, types.StateFailed)
		return errors.Errorf("condition node %s must have exactly two branches", n.ID)
	}

	cond, _ := n.StringConfig(types.CfgCondition)
	branch := n.Children[1]
	if Evaluate(cond, ec) {
		branch = n.Children[0]
	}
	e.logger.Debug("condition evaluated",
		zap.String("node", n.ID),
		zap.String("condition", cond),
		zap.String("branch", branch.ID))

	err := e.executeNode(ctx, branch, ec)
	switch {
	case ec.Cancelled():
		ec.SetNodeState(n.ID, types.StateCancelled)
	case err != nil:
		ec.SetNodeState(n.ID, types.StateFailed)
	default:
		ec.SetNodeState(n.ID, types.StateCompleted)
	}
	return err
}

// executeLoop re-checks its condition before every iteration and stops
// when it turns false or max_iterations is reached, whichever comes
// first. The 0-based iteration count is exposed to the body as
// context.iteration.
func (e *Executor) executeLoop(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	if len(n.Children) != 1 {
		ec.SetNodeState(n.ID, types.StateFailed)
		return errors.Errorf("loop node %s must have exactly one body", n.ID)
	}
	cond, _ := n.StringConfig(types.CfgCondition)
	maxIter, ok := n.IntConfig(types.CfgMaxIterations)
	if !ok || maxIter < 1 {
		ec.SetNodeState(n.ID, types.StateFailed)
		return errors.Errorf("loop node %s has no max_iterations", n.ID)
	}

	body := n.Children[0]
	var firstErr error
	iterations := 0
	for i := 0; i < maxIter; i++ {
		if ec.Cancelled() {
			ec.SetNodeState(n.ID, types.StateCancelled)
			return firstErr
		}
		if err := ctx.Err(); err != nil {
			ec.SetNodeState(n.ID, ctxState(err))
			return firstErr
		}
		ec.SetVariable("iteration", i)
		if !Evaluate(cond, ec) {
			break
		}
		if err := e.executeNode(ctx, body, ec); err != nil && firstErr == nil {
			firstErr = err
		}
		iterations++
	}
	e.logger.Debug("loop finished", zap.String("node", n.ID), zap.Int("iterations", iterations))

	if firstErr != nil {
		ec.SetNodeState(n.ID, types.StateFailed)
		return firstErr
	}
	ec.SetNodeState(n.ID, types.StateCompleted)
	return nil
}

// executeWait polls its condition until true or its timeout elapses.
// Timing out is recorded on the node without failing the run; escalation
// is the caller's policy.
func (e *Executor) executeWait(ctx context.Context, n *types.Node, ec *ExecutionContext) error {
	cond, _ := n.StringConfig(types.CfgCondition)
	timeout, _ := n.FloatConfig(types.CfgTimeout)
	pollInterval, ok := n.FloatConfig(types.CfgPollInterval)
	if !ok || pollInterval <= 0 {
		pollInterval = 1
	}

	deadline := time.Now().Add(seconds(timeout))
	for {
		if ec.Cancelled() {
			ec.SetNodeState(n.ID, types.StateCancelled)
			return nil
		}
		if Evaluate(cond, ec) {
			ec.SetNodeState(n.ID, types.StateCompleted)
			return nil
		}
		if !time.Now().Before(deadline) {
			ec.SetNodeState(n.ID, types.StateTimedOut)
			e.logger.Debug("wait timed out", zap.String("node", n.ID), zap.String("condition", cond))
			return nil
		}
		select {
		case <-ctx.Done():
			ec.SetNodeState(n.ID, ctxState(ctx.Err()))
			return nil
		case <-time.After(seconds(pollInterval)):
		}
	}
}

func ctxState(err error) types.NodeState {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.StateTimedOut
	}
	return types.StateCancelled
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
