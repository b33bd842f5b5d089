package main

import (
	"context"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/avi3tal/stepflow/pkg/workflow"
)

const plan = `
- task: fetch_page
  tools: [http_get]
  parameters:
    url: https://example.com/reports
- parallel:
    - task: extract_titles
      tools: [html_parse]
      parameters:
        html: ${result.fetch_page.body}
    - task: extract_links
      tools: [html_parse]
      parameters:
        html: ${result.fetch_page.body}
  max_concurrency: 2
- if: result.extract_titles.count > 0
  then:
    - task: summarize
      parameters:
        titles: ${result.extract_titles.titles}
  else:
    - task: report_empty
`

type demoBackend struct{}

func (demoBackend) ExecuteTask(_ context.Context, taskName string, _ []string, parameters map[string]any) (map[string]any, error) {
	fmt.Printf("executing %s with %v\n", taskName, parameters)
	switch taskName {
	case "fetch_page":
		return map[string]any{"body": "<html>...</html>"}, nil
	case "extract_titles":
		return map[string]any{"count": 3, "titles": "a, b, c"}, nil
	case "extract_links":
		return map[string]any{"links": 12}, nil
	default:
		return map[string]any{"status": "completed"}, nil
	}
}

func main() {
	wf, err := workflow.Load([]byte(plan), workflow.WithName("report pipeline"))
	if err != nil {
		log.Fatalf("load workflow: %v", err)
	}
	fmt.Print(workflow.Visualize(wf.Root()))

	report := wf.Validate(workflow.Catalog{
		Tasks: map[string]workflow.TaskSpec{
			"fetch_page":     {EstimatedDuration: 2},
			"extract_titles": {EstimatedDuration: 1},
			"extract_links":  {EstimatedDuration: 1},
			"summarize":      {EstimatedDuration: 3},
			"report_empty":   {EstimatedDuration: 1},
		},
		Tools:  []string{"http_get", "html_parse"},
		Limits: workflow.Limits{MaxExecutionDuration: 60},
	})
	if !report.IsValid {
		log.Fatalf("workflow invalid: %+v", report.Errors())
	}
	fmt.Printf("estimated duration: %.1fs\n", report.EstimatedDuration)

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	result := wf.Execute(context.Background(), demoBackend{},
		workflow.WithLogger(logger))
	fmt.Printf("run %s: %d/%d nodes completed\n", result.Status, result.CompletedNodes, result.TotalNodes)
}
