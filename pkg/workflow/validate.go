package workflow

import (
	"github.com/avi3tal/stepflow/internal/validate"
)

// Catalog re-exports the validator's input types so callers only import
// this package for the common round trip.
type (
	Catalog  = validate.Catalog
	TaskSpec = validate.TaskSpec
	Limits   = validate.Limits
)

// Validate checks the parsed tree against the catalog and returns the
// full validation report.
func (w *Workflow) Validate(catalog validate.Catalog, opts ...validate.Option) validate.Result {
	return validate.NewValidator(opts...).Validate(w.root, catalog)
}
