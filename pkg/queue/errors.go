package queue

import (
	"errors"
	"fmt"
)

// ErrDiscard marks a handler failure whose job must not return to the
// pending list even while attempts remain. Wrap it into the returned
// error: fmt.Errorf("%w: %w", queue.ErrDiscard, cause).
var ErrDiscard = errors.New("job discarded")

// JobNotFoundError is returned when a job id does not exist in the store.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

// DuplicateJobError is returned when an enqueue dedup anchor is already held
// by a previously enqueued job.
type DuplicateJobError struct {
	Anchor string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("duplicate job: anchor %s already enqueued", e.Anchor)
}

// InvalidProgressError is returned when a progress update is outside 0..100.
type InvalidProgressError struct {
	Progress int
}

func (e *InvalidProgressError) Error() string {
	return fmt.Sprintf("invalid progress %d: must be between 0 and 100", e.Progress)
}

// ConsumerClosedError is returned when starting work on a closed consumer.
type ConsumerClosedError struct {
	Name string
}

func (e *ConsumerClosedError) Error() string {
	return fmt.Sprintf("consumer %s is closed", e.Name)
}

// IsJobNotFound returns true if the error is a JobNotFoundError.
func IsJobNotFound(err error) bool {
	var e *JobNotFoundError
	return errors.As(err, &e)
}

// IsDuplicateJob returns true if the error is a DuplicateJobError.
func IsDuplicateJob(err error) bool {
	var e *DuplicateJobError
	return errors.As(err, &e)
}

// IsInvalidProgress returns true if the error is an InvalidProgressError.
func IsInvalidProgress(err error) bool {
	var e *InvalidProgressError
	return errors.As(err, &e)
}
