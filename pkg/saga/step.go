// Package saga provides saga-style logical transactions over a
// non-transactional store: ordered steps with execute/compensate pairs,
// resource locking, durable queueing and reverse compensation.
package saga

import (
	"context"
)

// ExecuteFunc runs the forward action of a step and returns its result.
// The result must be JSON-serializable; it is persisted with the job and
// handed back to the step's compensation on rollback.
type ExecuteFunc func(ctx context.Context, ec *ExecContext) (any, error)

// CompensateFunc undoes a previously completed step.
type CompensateFunc func(ctx context.Context, cc *CompensateContext) error

// ExecContext carries runtime information for forward step execution.
type ExecContext struct {
	JobID     string
	UserID    int64
	StepIndex int
	StepName  string

	// Prior holds the results of previously completed steps in execution
	// order. On a resumed job these values have been through a JSON
	// round-trip, so objects arrive as map[string]any.
	Prior []StepResult
}

// CompensateContext carries runtime information for compensation execution.
type CompensateContext struct {
	JobID    string
	UserID   int64
	StepName string

	// Result is the persisted result of the step being undone. Like
	// ExecContext.Prior it may have been through a JSON round-trip.
	Result any
}

// StepResult pairs a completed step name with its result.
type StepResult struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// StepDefinition binds a step name to its executable pair. Persisted jobs
// reference steps by name only; the definition lives in the process.
type StepDefinition struct {
	// Name uniquely addresses the step in the registry.
	Name string

	// Execute performs the step's side effect.
	Execute ExecuteFunc

	// Compensate undoes Execute. Nil means the step has nothing to undo
	// and is skipped during rollback.
	Compensate CompensateFunc
}

// Validate checks that the definition is executable.
func (d StepDefinition) Validate() error {
	if d.Name == "" {
		return ErrStepNameEmpty
	}
	if d.Execute == nil {
		return ErrStepExecuteNil
	}
	return nil
}
