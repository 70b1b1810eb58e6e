package saga

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job id cannot be resolved.
	ErrJobNotFound = errors.New("saga: job not found")

	// ErrNoSteps rejects transactions submitted without steps.
	ErrNoSteps = errors.New("saga: transaction must declare at least one step")

	// ErrNoResources rejects payloads without a resource identifier set.
	ErrNoResources = errors.New("saga: transaction must declare at least one resource")

	// ErrStepNameEmpty rejects step definitions without a name.
	ErrStepNameEmpty = errors.New("saga: step name cannot be empty")

	// ErrStepExecuteNil rejects step definitions without an execute action.
	ErrStepExecuteNil = errors.New("saga: step execute function cannot be nil")

	// ErrFailureNotFound is returned when a compensation failure key does
	// not resolve to a live record.
	ErrFailureNotFound = errors.New("saga: compensation failure not found")
)

// ResourceBusyError is raised when the worker cannot acquire the lock set
// for a job because another transaction holds part of it. The message is
// load-bearing: quarantine classification keys on "other transaction".
type ResourceBusyError struct {
	Keys []string
}

func (e *ResourceBusyError) Error() string {
	return fmt.Sprintf("other transaction in progress on %s", strings.Join(e.Keys, ", "))
}

// StepNotFoundError is raised when a job references a step name the local
// registry does not carry, typically deploy skew. The message is
// load-bearing: quarantine classification keys on "step function not
// found" and treats it as retryable.
type StepNotFoundError struct {
	Step string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("Step function not found: %s", e.Step)
}

// StepExecutionError wraps an error returned by a step's execute action.
type StepExecutionError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed at index %d: %v", e.Step, e.Index, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// CompensationError wraps an error returned by a step's compensate action.
// It is recorded, never propagated: a compensation failure does not stop
// compensation of earlier steps and does not change the saga outcome.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %s failed: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// IsResourceBusy reports whether err is a ResourceBusyError.
func IsResourceBusy(err error) bool {
	var e *ResourceBusyError
	return errors.As(err, &e)
}

// IsStepNotFound reports whether err is a StepNotFoundError.
func IsStepNotFound(err error) bool {
	var e *StepNotFoundError
	return errors.As(err, &e)
}
