package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/stepflow/internal/dsl"
	"github.com/avi3tal/stepflow/internal/types"
)

// stubBackend records every call and answers with a canned result unless
// fn overrides it.
type stubBackend struct {
	mu     sync.Mutex
	calls  []string
	params map[string]map[string]any
	fn     func(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

func (b *stubBackend) ExecuteTask(ctx context.Context, name string, tools []string, params map[string]any) (map[string]any, error) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	if b.params == nil {
		b.params = make(map[string]map[string]any)
	}
	b.params[name] = params
	b.mu.Unlock()

	if b.fn != nil {
		return b.fn(ctx, name, params)
	}
	return map[string]any{"status": "completed"}, nil
}

func (b *stubBackend) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *stubBackend) called(name string) bool {
	for _, call := range b.names() {
		if call == name {
			return true
		}
	}
	return false
}

func parseWorkflow(t *testing.T, doc string) *types.Node {
	t.Helper()
	result := dsl.ParseYAML([]byte(doc))
	require.True(t, result.Success, "errors: %v", result.Errors)
	return result.Root
}

func TestExecuteSequenceInOrder(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
- task: a
- task: b
- task: c
`)
	backend := &stubBackend{}
	ec := NewExecutionContext("wf", nil)

	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCompleted, result.Status)
	require.Equal(t, []string{"a", "b", "c"}, backend.names())
	require.Equal(t, 4, result.TotalNodes)
	require.Equal(t, 4, result.CompletedNodes)
	for id, state := range ec.NodeStates() {
		require.Equal(t, types.StateCompleted, state, "node %s", id)
	}
}

func TestSequenceContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
- task: a
- task: b
- task: c
`)
	backend := &stubBackend{fn: func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		if name == "b" {
			return nil, errors.New("backend exploded")
		}
		return map[string]any{"status": "completed"}, nil
	}}
	ec := NewExecutionContext("wf", nil)

	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunFailed, result.Status)
	require.Contains(t, result.Error, "task b")
	require.Equal(t, []string{"a", "b", "c"}, backend.names(), "a failed step does not stop the sequence")
	require.Equal(t, types.StateCompleted, ec.NodeState("node_2"))
	require.Equal(t, types.StateFailed, ec.NodeState("node_3"))
	require.Equal(t, types.StateCompleted, ec.NodeState("node_4"))
	require.Equal(t, types.StateFailed, ec.NodeState("node_1"))
}

func TestParameterResolutionBetweenTasks(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
- task: probe
- task: report
  parameters:
    count: "${result.probe.count}"
    label: "saw ${result.probe.count} items"
`)
	backend := &stubBackend{fn: func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		if name == "probe" {
			return map[string]any{"count": 5}, nil
		}
		return map[string]any{"status": "completed"}, nil
	}}
	ec := NewExecutionContext("wf", nil)

	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCompleted, result.Status)
	require.Equal(t, "5", backend.params["report"]["count"])
	require.Equal(t, "saw 5 items", backend.params["report"]["label"])
}

func TestParallelConcurrencyBound(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
parallel:
  - task: a
  - task: b
  - task: c
  - task: d
max_concurrency: 2
`)
	var current, peak atomic.Int32
	backend := &stubBackend{fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		cur := current.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return map[string]any{"status": "completed"}, nil
	}}
	ec := NewExecutionContext("wf", nil)

	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCompleted, result.Status)
	require.Len(t, backend.names(), 4)
	require.LessOrEqual(t, peak.Load(), int32(2), "max_concurrency bounds simultaneous tasks")
}

func TestParallelFailFast(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
parallel:
  - task: bomb
  - task: victim
fail_fast: true
`)
	backend := &stubBackend{fn: func(ctx context.Context, name string, _ map[string]any) (map[string]any, error) {
		if name == "bomb" {
			time.Sleep(10 * time.Millisecond)
			return nil, errors.New("boom")
		}
		// The sibling only unblocks when its branch is cancelled.
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return nil, ctx.Err()
	}}
	ec := NewExecutionContext("wf", nil)

	start := time.Now()
	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunFailed, result.Status)
	require.Contains(t, result.Error, "task bomb")
	require.Equal(t, types.StateFailed, ec.NodeState("node_3"))
	require.Equal(t, types.StateCancelled, ec.NodeState("node_4"))
	require.Less(t, time.Since(start), time.Second, "fail_fast must not wait out the sibling")
}

func TestParallelFirstTerminalStopsAdmission(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
parallel:
  - task: a
  - task: b
  - task: c
max_concurrency: 1
wait_for_all: false
`)
	backend := &stubBackend{fn: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
		time.Sleep(20 * time.Millisecond)
		return map[string]any{"status": "completed"}, nil
	}}
	ec := NewExecutionContext("wf", nil)

	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCompleted, result.Status)
	require.Equal(t, types.StateCompleted, ec.NodeState("node_2"))
	require.Equal(t, types.StateCompleted, ec.NodeState("node_3"))
	require.Equal(t, types.StateCancelled, ec.NodeState("node_5"), "children past the first terminal are never admitted")
	require.True(t, backend.called("a"))
	require.False(t, backend.called("c"))
}

func TestConditionBranching(t *testing.T) {
	t.Parallel()
	const doc = `
- task: probe
- if: result.probe.count > 3
  then:
    - task: big
  else:
    - task: small
`
	// ids: node_1 root, node_2 probe, node_3 if,
	// node_4 then-seq, node_5 big, node_6 else-seq, node_7 small.

	run := func(t *testing.T, count int) (*stubBackend, *ExecutionContext) {
		t.Helper()
		backend := &stubBackend{fn: func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
			if name == "probe" {
				return map[string]any{"count": count}, nil
			}
			return map[string]any{"status": "completed"}, nil
		}}
		ec := NewExecutionContext("wf", nil)
		result := NewExecutor(backend).ExecuteWorkflow(context.Background(), parseWorkflow(t, doc), ec, 0)
		require.Equal(t, types.RunCompleted, result.Status)
		return backend, ec
	}

	t.Run("ThenBranch", func(t *testing.T) {
		t.Parallel()
		backend, ec := run(t, 5)
		require.True(t, backend.called("big"))
		require.False(t, backend.called("small"))
		require.Equal(t, types.StateCompleted, ec.NodeState("node_3"))
		require.Equal(t, types.StatePending, ec.NodeState("node_6"), "the untaken branch is never started")
	})

	t.Run("ElseBranch", func(t *testing.T) {
		t.Parallel()
		backend, ec := run(t, 1)
		require.False(t, backend.called("big"))
		require.True(t, backend.called("small"))
		require.Equal(t, types.StatePending, ec.NodeState("node_4"))
	})
}

func TestLoopIterations(t *testing.T) {
	t.Parallel()

	t.Run("ConditionStops", func(t *testing.T) {
		t.Parallel()
		root := parseWorkflow(t, `
loop:
  condition: context.iteration < 3
  max_iterations: 5
  body:
    - task: step
`)
		backend := &stubBackend{}
		ec := NewExecutionContext("wf", nil)

		result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
		require.Equal(t, types.RunCompleted, result.Status)
		require.Len(t, backend.names(), 3, "the condition stops the loop before the cap")
	})

	t.Run("CapStops", func(t *testing.T) {
		t.Parallel()
		root := parseWorkflow(t, `
loop:
  condition: "true"
  max_iterations: 4
  body:
    - task: step
`)
		backend := &stubBackend{}
		ec := NewExecutionContext("wf", nil)

		result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
		require.Equal(t, types.RunCompleted, result.Status)
		require.Len(t, backend.names(), 4, "max_iterations caps an always-true condition")
	})
}

func TestWaitForCondition(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
wait:
  condition: context.ready == true
  timeout: 5
  poll_interval: 0.01
`)
	ec := NewExecutionContext("wf", nil)
	time.AfterFunc(30*time.Millisecond, func() {
		ec.SetVariable("ready", true)
	})

	result := NewExecutor(&stubBackend{}).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCompleted, result.Status)
	require.Equal(t, types.StateCompleted, ec.NodeState("node_2"))
}

func TestWaitTimeoutDoesNotFailRun(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
wait:
  condition: context.never == true
  timeout: 0.05
  poll_interval: 0.01
`)
	ec := NewExecutionContext("wf", nil)

	result := NewExecutor(&stubBackend{}).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCompleted, result.Status)
	require.Equal(t, types.StateTimedOut, ec.NodeState("node_2"))
}

func TestWorkflowTimeout(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
- task: glacial
`)
	backend := &stubBackend{fn: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{"status": "completed"}, nil
		}
	}}
	ec := NewExecutionContext("wf", nil)

	start := time.Now()
	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 50*time.Millisecond)
	require.Equal(t, types.RunTimedOut, result.Status)
	require.Contains(t, result.Error, "timed out")
	require.Equal(t, types.StateTimedOut, ec.NodeState("node_2"))
	require.Less(t, time.Since(start), time.Second, "the deadline races the in-flight call")
}

func TestCancelExecution(t *testing.T) {
	t.Parallel()
	root := parseWorkflow(t, `
- task: a
- task: b
`)
	ec := NewExecutionContext("wf", nil)
	backend := &stubBackend{fn: func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		if name == "a" {
			ec.Cancel()
		}
		return map[string]any{"status": "completed"}, nil
	}}

	result := NewExecutor(backend).ExecuteWorkflow(context.Background(), root, ec, 0)
	require.Equal(t, types.RunCancelled, result.Status)
	require.Equal(t, []string{"a"}, backend.names(), "no further work starts after cancellation")
	require.Equal(t, types.StateCancelled, ec.NodeState("node_3"), "never-started nodes end cancelled")
}

func TestExecuteWorkflowNilRoot(t *testing.T) {
	t.Parallel()
	result := NewExecutor(&stubBackend{}).ExecuteWorkflow(context.Background(), nil, NewExecutionContext("wf", nil), 0)
	require.Equal(t, types.RunFailed, result.Status)
	require.Contains(t, result.Error, "no root node")
}
