package main

import (
	"context"
	"fmt"
	"log"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/avi3tal/stepflow/pkg/workflow"
)

// Requires OPENAI_API_KEY in the environment.
const plan = `
- task: draft_summary
  tools: [llm]
  parameters:
    prompt: Summarize the state of workflow engines in one paragraph.
- task: critique
  tools: [llm]
  parameters:
    prompt: "Critique this summary: ${result.draft_summary.output}"
`

// llmBackend adapts a langchaingo model as the engine's task backend:
// every task's prompt parameter is sent to the model and the completion
// is recorded as the task result.
type llmBackend struct {
	model llms.Model
}

func (b llmBackend) ExecuteTask(ctx context.Context, taskName string, _ []string, parameters map[string]any) (map[string]any, error) {
	prompt, ok := parameters["prompt"].(string)
	if !ok {
		return nil, errors.Errorf("task %s has no prompt parameter", taskName)
	}
	completion, err := llms.GenerateFromSinglePrompt(ctx, b.model, prompt)
	if err != nil {
		return nil, errors.Wrapf(err, "task %s", taskName)
	}
	return map[string]any{"output": completion}, nil
}

func main() {
	model, err := openai.New()
	if err != nil {
		log.Fatalf("create model: %v", err)
	}

	wf, err := workflow.Load([]byte(plan), workflow.WithName("llm tasks"))
	if err != nil {
		log.Fatalf("load workflow: %v", err)
	}

	result := wf.Execute(context.Background(), llmBackend{model: model})
	fmt.Printf("run %s: %d/%d nodes completed\n", result.Status, result.CompletedNodes, result.TotalNodes)
}
