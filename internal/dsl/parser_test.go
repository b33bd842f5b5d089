package dsl

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avi3tal/stepflow/internal/types"
)

func taskBlock(name string) map[string]any {
	return map[string]any{"task": name}
}

func TestParseSingleTask(t *testing.T) {
	t.Parallel()
	doc := map[string]any{
		"task":       "scrape",
		"tools":      []any{"http_get", "html_parse"},
		"parameters": map[string]any{"url": "https://example.com"},
		"timeout":    30,
	}

	result := NewParser().Parse(doc)
	require.True(t, result.Success, "errors: %v", result.Errors)
	require.Equal(t, 2, result.Metadata.NodeCount, "implicit sequence wrapper plus the task")
	require.Equal(t, 2, result.Metadata.MaxDepth)

	root := result.Root
	require.Equal(t, types.NodeSequence, root.Type)
	require.Equal(t, "node_1", root.ID)
	require.Len(t, root.Children, 1)

	task := root.Children[0]
	require.Equal(t, types.NodeTask, task.Type)
	require.Equal(t, "node_2", task.ID)
	require.Equal(t, "scrape", task.TaskName())
	require.Equal(t, []string{"http_get", "html_parse"}, task.Tools())
	require.Equal(t, map[string]any{"url": "https://example.com"}, task.Parameters())
	timeout, ok := task.FloatConfig(types.CfgTimeout)
	require.True(t, ok)
	require.InDelta(t, 30, timeout, 0.001)
}

func TestParseImplicitSequence(t *testing.T) {
	t.Parallel()
	doc := []any{taskBlock("a"), taskBlock("b"), taskBlock("c")}

	result := NewParser().Parse(doc)
	require.True(t, result.Success)
	require.Equal(t, 4, result.Metadata.NodeCount)
	require.Equal(t, types.NodeSequence, result.Root.Type)
	require.Len(t, result.Root.Children, 3)
	require.Equal(t, "a", result.Root.Children[0].TaskName())
	require.Equal(t, "c", result.Root.Children[2].TaskName())
}

func TestParseExplicitSequenceWrapper(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"sequence": []any{taskBlock("a"), taskBlock("b")}}

	result := NewParser().Parse(doc)
	require.True(t, result.Success)
	// No double wrapping: the explicit sequence is the root.
	require.Equal(t, 3, result.Metadata.NodeCount)
	require.Equal(t, types.NodeSequence, result.Root.Type)
	require.Len(t, result.Root.Children, 2)
}

func TestParseParallel(t *testing.T) {
	t.Parallel()

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		doc := map[string]any{"parallel": []any{taskBlock("a"), taskBlock("b")}}

		result := NewParser().Parse(doc)
		require.True(t, result.Success)
		require.Equal(t, 1, result.Metadata.ParallelBlockCount)

		par := result.Root.Children[0]
		require.Equal(t, types.NodeParallel, par.Type)
		require.True(t, par.BoolConfig(types.CfgWaitForAll, false))
		require.False(t, par.BoolConfig(types.CfgFailFast, true))
		_, bounded := par.IntConfig(types.CfgMaxConcurrency)
		require.False(t, bounded, "max_concurrency defaults to unbounded")
	})

	t.Run("Options", func(t *testing.T) {
		t.Parallel()
		doc := map[string]any{
			"parallel":        []any{taskBlock("a"), taskBlock("b"), taskBlock("c")},
			"max_concurrency": 2,
			"wait_for_all":    false,
			"fail_fast":       true,
		}

		result := NewParser().Parse(doc)
		require.True(t, result.Success)

		par := result.Root.Children[0]
		mc, ok := par.IntConfig(types.CfgMaxConcurrency)
		require.True(t, ok)
		require.Equal(t, 2, mc)
		require.False(t, par.BoolConfig(types.CfgWaitForAll, true))
		require.True(t, par.BoolConfig(types.CfgFailFast, false))
	})
}

func TestParseCondition(t *testing.T) {
	t.Parallel()

	t.Run("ThenAndElse", func(t *testing.T) {
		t.Parallel()
		doc := map[string]any{
			"if":   "result.scrape.count > 0",
			"then": []any{taskBlock("summarize")},
			"else": []any{taskBlock("report_empty")},
		}

		result := NewParser().Parse(doc)
		require.True(t, result.Success, "errors: %v", result.Errors)

		cond := result.Root.Children[0]
		require.Equal(t, types.NodeCondition, cond.Type)
		require.Len(t, cond.Children, 2, "condition always has then and else sequences")
		require.Equal(t, types.NodeSequence, cond.Children[0].Type)
		require.Equal(t, types.NodeSequence, cond.Children[1].Type)
		require.Len(t, cond.Children[0].Children, 1)
		require.Len(t, cond.Children[1].Children, 1)

		condType, _ := cond.StringConfig(types.CfgConditionType)
		require.Equal(t, string(CondResultCheck), condType)
	})

	t.Run("ElseOmitted", func(t *testing.T) {
		t.Parallel()
		doc := map[string]any{
			"if":   "context.enabled == true",
			"then": []any{taskBlock("run")},
		}

		result := NewParser().Parse(doc)
		require.True(t, result.Success)

		cond := result.Root.Children[0]
		require.Len(t, cond.Children, 2)
		require.Empty(t, cond.Children[1].Children, "omitted else becomes an empty sequence")
	})
}

func TestParseLoop(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"loop": map[string]any{
		"condition":      "context.iteration < 3",
		"max_iterations": 5,
		"body":           []any{taskBlock("step")},
	}}

	result := NewParser().Parse(doc)
	require.True(t, result.Success, "errors: %v", result.Errors)

	loop := result.Root.Children[0]
	require.Equal(t, types.NodeLoop, loop.Type)
	maxIter, ok := loop.IntConfig(types.CfgMaxIterations)
	require.True(t, ok)
	require.Equal(t, 5, maxIter)
	require.Len(t, loop.Children, 1)
	require.Equal(t, types.NodeSequence, loop.Children[0].Type)
}

func TestParseWait(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"wait": map[string]any{
		"condition":     "result.index.ready == true",
		"timeout":       10,
		"poll_interval": 0.5,
	}}

	result := NewParser().Parse(doc)
	require.True(t, result.Success, "errors: %v", result.Errors)

	wait := result.Root.Children[0]
	require.Equal(t, types.NodeWait, wait.Type)
	require.Empty(t, wait.Children, "wait is a leaf")
	timeout, _ := wait.FloatConfig(types.CfgTimeout)
	require.InDelta(t, 10, timeout, 0.001)
	poll, _ := wait.FloatConfig(types.CfgPollInterval)
	require.InDelta(t, 0.5, poll, 0.001)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		doc     any
		wantErr string
	}{
		{"EmptyDocument", nil, "document is empty"},
		{"ScalarDocument", 42, "must be a map or a list"},
		{"UnknownBlockShape", map[string]any{"frobnicate": true}, "unrecognized block shape"},
		{"UnknownTaskKey", map[string]any{"task": "a", "retries": 3}, "unknown key"},
		{"EmptyTaskName", map[string]any{"task": "  "}, "non-empty string name"},
		{"NonListSequence", map[string]any{"sequence": "oops"}, "requires a list"},
		{"NonListThen", map[string]any{"if": "context.x == 1", "then": "oops"}, "then must be a list"},
		{"MissingThen", map[string]any{"if": "context.x == 1"}, "requires a then branch"},
		{"MissingMaxIterations", map[string]any{"loop": map[string]any{
			"condition": "context.x == 1", "body": []any{taskBlock("a")},
		}}, "requires max_iterations"},
		{"BadConditionSyntax", map[string]any{
			"if": "result..status == 'done'", "then": []any{taskBlock("a")},
		}, "invalid condition"},
		{"UnterminatedString", map[string]any{
			"if": "result.t.status == 'done", "then": []any{taskBlock("a")},
		}, "unterminated string"},
		{"NegativeTimeout", map[string]any{"task": "a", "timeout": -1}, "positive number"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := NewParser().Parse(tc.doc)
			require.False(t, result.Success)
			require.Nil(t, result.Root)
			require.NotEmpty(t, result.Errors)
			require.Contains(t, result.Errors[0], tc.wantErr)
		})
	}
}

func TestParseIDsResetPerCall(t *testing.T) {
	t.Parallel()
	p := NewParser()

	first := p.Parse([]any{taskBlock("a")})
	second := p.Parse([]any{taskBlock("b")})
	require.True(t, first.Success)
	require.True(t, second.Success)
	require.Equal(t, "node_1", first.Root.ID)
	require.Equal(t, "node_1", second.Root.ID, "ids restart on every Parse call")
	require.Equal(t, first.Root.Children[0].ID, second.Root.Children[0].ID)
}

func TestParseManyTopLevelTasks(t *testing.T) {
	t.Parallel()
	blocks := make([]any, 50)
	for i := range blocks {
		blocks[i] = taskBlock(fmt.Sprintf("task_%d", i))
	}

	start := time.Now()
	result := NewParser().Parse(blocks)
	elapsed := time.Since(start)

	require.True(t, result.Success)
	require.Equal(t, 51, result.Metadata.NodeCount)
	require.Less(t, elapsed, time.Second)
}

func TestParseNestedMetadata(t *testing.T) {
	t.Parallel()
	doc := []any{
		taskBlock("a"),
		map[string]any{"parallel": []any{
			taskBlock("b"),
			map[string]any{"parallel": []any{taskBlock("c")}},
		}},
	}

	result := NewParser().Parse(doc)
	require.True(t, result.Success)
	require.Equal(t, 2, result.Metadata.ParallelBlockCount)
	require.Equal(t, 4, result.Metadata.MaxDepth)
}
