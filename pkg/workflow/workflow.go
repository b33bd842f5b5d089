package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/avi3tal/stepflow/internal/dsl"
	"github.com/avi3tal/stepflow/internal/engine"
	"github.com/avi3tal/stepflow/internal/types"
)

const defaultWorkflowName = "workflow"

// Workflow wraps a parsed plan together with its identity. It is the
// entry point for the load -> validate -> execute round trip.
type Workflow struct {
	id     string
	name   string
	root   *types.Node
	parsed dsl.ParseResult
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithName sets the workflow name used in its id.
func WithName(name string) Option {
	return func(w *Workflow) {
		w.name = name
	}
}

// Load decodes a YAML or JSON plan document and parses it into a
// workflow. Parse failures are returned as one wrapped error listing
// every parser message; use New with a decoded document to inspect the
// full ParseResult instead.
func Load(data []byte, opts ...Option) (*Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode workflow document")
	}
	return New(doc, opts...)
}

// New parses a decoded plan document into a workflow.
func New(document any, opts ...Option) (*Workflow, error) {
	w := &Workflow{name: defaultWorkflowName}
	for _, opt := range opts {
		opt(w)
	}
	// remove spaces
	w.name = strings.ReplaceAll(w.name, " ", "-")
	w.id = fmt.Sprintf("%s-%s", w.name, uuid.New().String())

	w.parsed = dsl.NewParser().Parse(document)
	if !w.parsed.Success {
		return nil, errors.Errorf("parse workflow: %s", strings.Join(w.parsed.Errors, "; "))
	}
	w.root = w.parsed.Root
	return w, nil
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string {
	return w.id
}

// Root returns the parsed tree.
func (w *Workflow) Root() *types.Node {
	return w.root
}

// Metadata returns the parse metadata.
func (w *Workflow) Metadata() dsl.Metadata {
	return w.parsed.Metadata
}

// EncodeJSON renders the parsed tree for persistence or transport.
func (w *Workflow) EncodeJSON() ([]byte, error) {
	return dsl.EncodeJSON(w.root)
}

// RunOption configures one Execute call.
type RunOption func(*runConfig)

type runConfig struct {
	timeout   time.Duration
	variables map[string]any
	logger    *zap.Logger
	ec        *engine.ExecutionContext
}

// WithTimeout bounds the whole run.
func WithTimeout(timeout time.Duration) RunOption {
	return func(rc *runConfig) {
		rc.timeout = timeout
	}
}

// WithVariables seeds the run's context variables.
func WithVariables(variables map[string]any) RunOption {
	return func(rc *runConfig) {
		rc.variables = variables
	}
}

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) RunOption {
	return func(rc *runConfig) {
		rc.logger = logger
	}
}

// WithExecutionContext supplies a pre-built run context, giving the
// caller a handle for CancelExecution and for inspecting node states.
func WithExecutionContext(ec *engine.ExecutionContext) RunOption {
	return func(rc *runConfig) {
		rc.ec = ec
	}
}

// NewRun creates an execution context for this workflow, for callers
// that need a cancellation handle before starting Execute.
func (w *Workflow) NewRun(variables map[string]any) *engine.ExecutionContext {
	return engine.NewExecutionContext(w.id, variables)
}

// Execute runs the workflow against the given backend and returns its
// terminal result.
func (w *Workflow) Execute(ctx context.Context, backend engine.TaskBackend, opts ...RunOption) *engine.ExecutionResult {
	rc := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&rc)
	}
	ec := rc.ec
	if ec == nil {
		ec = engine.NewExecutionContext(w.id, rc.variables)
	}
	executor := engine.NewExecutor(backend, engine.WithLogger(rc.logger))
	return executor.ExecuteWorkflow(ctx, w.root, ec, rc.timeout)
}
