package saga

import (
	"fmt"
	"time"
)

// Phase is the state of one worker invocation over a job. A run enters,
// takes the lock, executes steps, and ends completed, failed or
// quarantined; a step failure detours through compensating first.
type Phase int

const (
	PhaseEntering Phase = iota
	PhaseLockAcquired
	PhaseExecuting
	PhaseCompleted
	PhaseCompensating
	PhaseFailed
	PhaseQuarantined
)

var validPhaseTransitions = map[Phase]map[Phase]struct{}{
	PhaseEntering: {
		PhaseLockAcquired: {},
		PhaseFailed:       {},
		PhaseQuarantined:  {},
	},
	PhaseLockAcquired: {
		PhaseExecuting:   {},
		PhaseCompleted:   {},
		PhaseFailed:      {},
		PhaseQuarantined: {},
	},
	PhaseExecuting: {
		PhaseCompleted:    {},
		PhaseCompensating: {},
		PhaseFailed:       {},
		PhaseQuarantined:  {},
	},
	PhaseCompensating: {
		PhaseFailed:      {},
		PhaseQuarantined: {},
	},
}

// String returns the string form of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseEntering:
		return "entering"
	case PhaseLockAcquired:
		return "lock-acquired"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseCompensating:
		return "compensating"
	case PhaseFailed:
		return "failed"
	case PhaseQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the phase ends the run.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseQuarantined:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a phase transition is valid. Staying in
// the same phase is always allowed; EXECUTING loops once per step.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == next {
		return true
	}
	validNext, ok := validPhaseTransitions[p]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidatePhaseTransition validates transition semantics.
func ValidatePhaseTransition(current, next Phase) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid run phase transition: %s -> %s", current, next)
	}
	return nil
}

// Run tracks one worker invocation of a job: its phase, the step cursor
// and timing. It exists so the failure handling is an explicit state
// machine rather than control flow threaded through error returns.
type Run struct {
	JobID     string
	Phase     Phase
	StepIndex int
	StartedAt time.Time
	EndedAt   time.Time
}

// NewRun starts phase tracking for one invocation.
func NewRun(jobID string) *Run {
	return &Run{
		JobID:     jobID,
		Phase:     PhaseEntering,
		StartedAt: time.Now().UTC(),
	}
}

// TransitionTo applies a phase transition.
func (r *Run) TransitionTo(next Phase) error {
	if err := ValidatePhaseTransition(r.Phase, next); err != nil {
		return err
	}
	r.Phase = next
	if next.IsTerminal() {
		r.EndedAt = time.Now().UTC()
	}
	return nil
}

// Duration returns how long the run has been going, or took.
func (r *Run) Duration() time.Duration {
	if !r.EndedAt.IsZero() {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
