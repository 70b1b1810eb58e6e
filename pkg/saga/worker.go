package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tranor/tranor/pkg/eventbus"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/queue"
)

// Locker is the lock surface the worker needs.
type Locker interface {
	Acquire(ctx context.Context, keys []string, owner string) (bool, error)
	Release(ctx context.Context, keys []string, owner string) (int64, error)
}

// QuarantineSink receives jobs that exhausted their delivery budget.
type QuarantineSink interface {
	Add(ctx context.Context, rec quarantine.Record) (string, error)
}

// Result summarizes one completed run.
type Result struct {
	JobID         string
	ExecutedSteps []string
	Results       map[string]any
	Duration      time.Duration
}

// Worker drives one queued transaction through the run state machine:
// take the resource locks, rebuild the rollback trail, execute pending
// steps in order, and on a step failure compensate the trail in reverse
// before propagating. Terminal failures are quarantined.
type Worker struct {
	registry    *Registry
	locks       Locker
	queue       JobQueue
	compensator *Compensator
	quarantine  QuarantineSink
	journal     Journal
	events      EventPublisher
	log         logger.Logger
	metrics     MetricsRecorder
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithWorkerQuarantine wires the dead-letter sink.
func WithWorkerQuarantine(sink QuarantineSink) WorkerOption {
	return func(w *Worker) { w.quarantine = sink }
}

// WithWorkerJournal wires the execution journal.
func WithWorkerJournal(j Journal) WorkerOption {
	return func(w *Worker) {
		if j != nil {
			w.journal = j
		}
	}
}

// WithWorkerEvents wires the lifecycle event publisher.
func WithWorkerEvents(events EventPublisher) WorkerOption {
	return func(w *Worker) { w.events = events }
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(log logger.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithWorkerMetrics sets the metrics recorder.
func WithWorkerMetrics(m MetricsRecorder) WorkerOption {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// NewWorker creates a Worker.
func NewWorker(registry *Registry, locks Locker, q JobQueue, compensator *Compensator, opts ...WorkerOption) (*Worker, error) {
	if registry == nil {
		return nil, fmt.Errorf("worker: registry cannot be nil")
	}
	if locks == nil {
		return nil, fmt.Errorf("worker: lock manager cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("worker: queue cannot be nil")
	}
	if compensator == nil {
		return nil, fmt.Errorf("worker: compensator cannot be nil")
	}
	w := &Worker{
		registry:    registry,
		locks:       locks,
		queue:       q,
		compensator: compensator,
		journal:     NopJournal{},
		log:         logger.Global(),
		metrics:     &nopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// HandleDelivery adapts Handle to the queue consumer's handler contract.
func (w *Worker) HandleDelivery(ctx context.Context, d *queue.Delivery) error {
	_, err := w.Handle(ctx, d)
	return err
}

// Handle drives one delivery to a terminal phase. The returned error is
// the causal failure; the caller settles the queue job with it.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) (*Result, error) {
	if d == nil {
		return nil, fmt.Errorf("worker: nil delivery")
	}

	ctx, span := transactionTracer().Start(ctx, spanTransactionExecute,
		trace.WithAttributes(
			attribute.String("job.id", d.JobID),
			attribute.Int("delivery.attempt", d.Attempt),
		))
	defer span.End()

	run := NewRun(d.JobID)
	w.metrics.IncActiveTransactions()
	defer w.metrics.DecActiveTransactions()

	payload, err := DecodePayload(d.Payload)
	if err != nil {
		// A payload that does not parse will not parse on redelivery
		// either; quarantine now and tell the queue to stop retrying.
		_ = run.TransitionTo(PhaseQuarantined)
		w.quarantineJob(ctx, d, nil, err)
		w.metrics.RecordTransaction(StatusFailed)
		return nil, fmt.Errorf("%w: %w", queue.ErrDiscard, err)
	}

	keys := LockKeys(payload.Resources())
	acquired, err := w.locks.Acquire(ctx, keys, d.JobID)
	if err != nil {
		return nil, w.finishFailed(ctx, run, d, payload, fmt.Errorf("worker: acquire locks: %w", err), StatusFailed)
	}
	if !acquired {
		w.metrics.RecordLockConflict()
		busy := &ResourceBusyError{Keys: keys}
		w.log.InfoContext(ctx, "resources busy, yielding job",
			"job_id", d.JobID,
			"keys", keys,
			"attempt", d.Attempt,
		)
		return nil, w.finishFailed(ctx, run, d, payload, busy, StatusBusy)
	}

	// Owner-verified release: even if this run overstays the lock TTL and
	// another job takes over, release deletes nothing foreign.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, err := w.locks.Release(releaseCtx, keys, d.JobID); err != nil {
			w.log.ErrorContext(releaseCtx, "failed to release resource locks",
				"job_id", d.JobID,
				"keys", keys,
				"error", err,
			)
		}
		w.appendJournal(releaseCtx, d.JobID, "", JournalLockReleased, nil)
	}()

	if err := run.TransitionTo(PhaseLockAcquired); err != nil {
		return nil, err
	}
	w.appendJournal(ctx, d.JobID, "", JournalLockAcquired, map[string]any{"keys": keys})
	w.publishTransactionEvent(ctx, payload.UserID, d.JobID, eventbus.EventTransactionStarted, "active", 0, "")

	trail := w.rebuildTrail(ctx, d.JobID, payload)
	prior := make([]StepResult, 0, len(payload.Steps))
	for _, st := range payload.Steps {
		if st.Index < payload.CurrentStepIndex && st.Status == StepStatusCompleted {
			prior = append(prior, StepResult{Name: st.Name, Result: st.Result})
		}
	}

	stepCount := len(payload.Steps)
	for i := payload.CurrentStepIndex; i < stepCount; i++ {
		if run.Phase != PhaseExecuting {
			if err := run.TransitionTo(PhaseExecuting); err != nil {
				return nil, err
			}
		}
		run.StepIndex = i
		st := &payload.Steps[i]

		if st.Status == StepStatusCompleted {
			// The previous run committed this step but crashed before
			// advancing the cursor; count it, never re-run it.
			if def, ok := w.registry.Get(st.Name); ok {
				trail = append(trail, TrailEntry{Step: st.Name, Result: st.Result, Def: def})
			} else {
				w.log.WarnContext(ctx, "completed step missing from registry, rollback unavailable for it",
					"job_id", d.JobID,
					"step", st.Name,
				)
			}
			prior = append(prior, StepResult{Name: st.Name, Result: st.Result})
			continue
		}

		w.updateProgress(ctx, d.JobID, payload.UserID, i*100/stepCount)

		// State goes down before the side effect: a crash between here
		// and the completion write leaves the step in_progress, so the
		// next delivery retries exactly this step.
		st.Status = StepStatusInProgress
		payload.CurrentStepIndex = i
		if err := w.persistPayload(ctx, d.JobID, payload); err != nil {
			return nil, w.finishFailed(ctx, run, d, payload, err, StatusFailed)
		}
		w.appendJournal(ctx, d.JobID, st.Name, JournalStepStarted, nil)
		w.publishStepEvent(ctx, payload.UserID, d.JobID, st.Name, eventbus.EventStepStarted, "in_progress", "")

		def, ok := w.registry.Get(st.Name)
		if !ok {
			return nil, w.failStep(ctx, run, d, payload, trail, i, &StepNotFoundError{Step: st.Name})
		}

		stepStart := time.Now()
		result, execErr := w.executeStep(ctx, d.JobID, payload.UserID, i, st.Name, def, prior)
		w.metrics.RecordStepDuration(st.Name, time.Since(stepStart))
		if execErr != nil {
			w.metrics.RecordStep(st.Name, StatusFailed)
			return nil, w.failStep(ctx, run, d, payload, trail, i, &StepExecutionError{Step: st.Name, Index: i, Err: execErr})
		}
		w.metrics.RecordStep(st.Name, StatusCompleted)

		st.Status = StepStatusCompleted
		st.Result = result
		if i < stepCount-1 {
			payload.CurrentStepIndex = i + 1
		}
		if err := w.persistPayload(ctx, d.JobID, payload); err != nil {
			// The side effect is committed but the completion is not. Do
			// not compensate a step that succeeded; fail the attempt and
			// let redelivery retry from in_progress.
			return nil, w.finishFailed(ctx, run, d, payload, err, StatusFailed)
		}
		w.appendJournal(ctx, d.JobID, st.Name, JournalStepCompleted, nil)
		w.publishStepEvent(ctx, payload.UserID, d.JobID, st.Name, eventbus.EventStepCompleted, "completed", "")
		trail = append(trail, TrailEntry{Step: st.Name, Result: result, Def: def})
		prior = append(prior, StepResult{Name: st.Name, Result: result})
		w.log.InfoContext(ctx, "step completed",
			"job_id", d.JobID,
			"step", st.Name,
			"index", i,
		)
	}

	if err := run.TransitionTo(PhaseCompleted); err != nil {
		return nil, err
	}
	w.updateProgress(ctx, d.JobID, payload.UserID, 100)

	executed := payload.CompletedStepNames()
	results := make(map[string]any, len(executed))
	for _, st := range payload.Steps {
		if st.Status == StepStatusCompleted {
			results[st.Name] = st.Result
		}
	}
	duration := run.Duration()
	w.metrics.RecordTransaction(StatusCompleted)
	w.metrics.RecordTransactionDuration(StatusCompleted, duration)
	w.publishTransactionEvent(ctx, payload.UserID, d.JobID, eventbus.EventTransactionCompleted, "completed", 100, "")
	w.log.InfoContext(ctx, "transaction completed",
		"job_id", d.JobID,
		"user_id", payload.UserID,
		"steps", len(executed),
		"duration", duration,
	)
	return &Result{
		JobID:         d.JobID,
		ExecutedSteps: executed,
		Results:       results,
		Duration:      duration,
	}, nil
}

// rebuildTrail reconstructs the rollback trail from persisted step state.
// Completed steps whose name the local registry no longer carries are
// skipped; a node that still has them will pick their rollback up.
func (w *Worker) rebuildTrail(ctx context.Context, jobID string, payload *Payload) []TrailEntry {
	trail := make([]TrailEntry, 0, len(payload.Steps))
	for i := 0; i < payload.CurrentStepIndex && i < len(payload.Steps); i++ {
		st := payload.Steps[i]
		if st.Status != StepStatusCompleted {
			continue
		}
		def, ok := w.registry.Get(st.Name)
		if !ok {
			w.log.WarnContext(ctx, "completed step missing from registry, skipping in rollback trail",
				"job_id", jobID,
				"step", st.Name,
			)
			continue
		}
		trail = append(trail, TrailEntry{Step: st.Name, Result: st.Result, Def: def})
	}
	return trail
}

func (w *Worker) executeStep(ctx context.Context, jobID string, userID int64, index int, name string, def StepDefinition, prior []StepResult) (result any, err error) {
	ctx, span := transactionTracer().Start(ctx, spanTransactionStep,
		trace.WithAttributes(
			attribute.String("step.name", name),
			attribute.Int("step.index", index),
		))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panic: %v", r)
		}
	}()
	return def.Execute(ctx, &ExecContext{
		JobID:     jobID,
		UserID:    userID,
		StepIndex: index,
		StepName:  name,
		Prior:     prior,
	})
}

// failStep is the compensation branch of the state machine: persist the
// failure, undo the trail in reverse, then surface the causal error.
func (w *Worker) failStep(ctx context.Context, run *Run, d *queue.Delivery, payload *Payload, trail []TrailEntry, index int, cause error) error {
	st := &payload.Steps[index]
	st.Status = StepStatusFailed
	if err := w.persistPayload(ctx, d.JobID, payload); err != nil {
		w.log.ErrorContext(ctx, "failed to persist step failure",
			"job_id", d.JobID,
			"step", st.Name,
			"error", err,
		)
	}
	w.appendJournal(ctx, d.JobID, st.Name, JournalStepFailed, map[string]string{"error": cause.Error()})
	w.publishStepEvent(ctx, payload.UserID, d.JobID, st.Name, eventbus.EventStepFailed, "failed", cause.Error())
	w.log.ErrorContext(ctx, "step failed",
		"job_id", d.JobID,
		"step", st.Name,
		"index", index,
		"error", cause,
	)

	_ = run.TransitionTo(PhaseCompensating)
	w.publishTransactionEvent(ctx, payload.UserID, d.JobID, eventbus.EventTransactionCompensating, "compensating", 0, cause.Error())
	if failed := w.compensator.Run(ctx, d.JobID, payload.UserID, trail); failed > 0 {
		w.log.WarnContext(ctx, "compensation finished with failures",
			"job_id", d.JobID,
			"failed_compensations", failed,
		)
	}

	if !d.FinalAttempt() {
		// The queue will redeliver. The trail was just undone, so the
		// retry must replay from the start, not resume into it.
		resetPayload(payload)
		if err := w.persistPayload(ctx, d.JobID, payload); err != nil {
			w.log.ErrorContext(ctx, "failed to reset payload for retry",
				"job_id", d.JobID,
				"error", err,
			)
		}
	}
	return w.finishFailed(ctx, run, d, payload, cause, StatusCompensated)
}

// finishFailed settles a failed run: quarantine on the last attempt,
// plain failure otherwise. Returns the causal error for propagation.
func (w *Worker) finishFailed(ctx context.Context, run *Run, d *queue.Delivery, payload *Payload, cause error, status string) error {
	if d.FinalAttempt() {
		_ = run.TransitionTo(PhaseQuarantined)
		w.quarantineJob(ctx, d, payload, cause)
		w.publishTransactionEvent(ctx, payload.UserID, d.JobID, eventbus.EventTransactionQuarantined, "quarantined", 0, cause.Error())
	} else {
		_ = run.TransitionTo(PhaseFailed)
		w.publishTransactionEvent(ctx, payload.UserID, d.JobID, eventbus.EventTransactionFailed, "failed", 0, cause.Error())
	}
	w.metrics.RecordTransaction(status)
	w.metrics.RecordTransactionDuration(status, run.Duration())
	return cause
}

// quarantineJob writes the dead-letter record for a terminally failed
// job. Write failures are logged and swallowed: the saga failure still
// propagates, recovery of the record is operational.
func (w *Worker) quarantineJob(ctx context.Context, d *queue.Delivery, payload *Payload, cause error) {
	if w.quarantine == nil {
		w.log.ErrorContext(ctx, "quarantine store not configured, terminal failure dropped",
			"severity", "fatal",
			"job_id", d.JobID,
			"error", cause,
		)
		return
	}

	rec := quarantine.Record{
		OriginalJobID:   d.JobID,
		Attempt:         d.Attempt,
		FailureReason:   cause.Error(),
		Stack:           string(debug.Stack()),
		OriginalJobData: json.RawMessage(append([]byte(nil), d.Payload...)),
		FailedAt:        time.Now().UTC(),
	}
	if payload != nil {
		rec.UserID = payload.UserID
		rec.CompletedSteps = payload.CompletedStepNames()
		rec.FailedStep = failedStepName(payload)
		rec.BusinessContext = payload.BusinessContext
	}

	id, err := w.quarantine.Add(ctx, rec)
	if err != nil {
		w.log.ErrorContext(ctx, "failed to quarantine job",
			"severity", "fatal",
			"job_id", d.JobID,
			"error", err,
		)
		return
	}

	classification, _, _ := quarantine.Classify(cause.Error())
	w.metrics.RecordQuarantine(classification)
	w.appendJournal(ctx, d.JobID, "", JournalQuarantined, map[string]string{
		"dlq_id": id,
		"reason": cause.Error(),
	})
	w.log.WarnContext(ctx, "job quarantined",
		"job_id", d.JobID,
		"dlq_id", id,
		"attempt", d.Attempt,
		"reason", cause.Error(),
	)
}

func (w *Worker) persistPayload(ctx context.Context, jobID string, payload *Payload) error {
	encoded, err := payload.Encode()
	if err != nil {
		return err
	}
	if err := w.queue.UpdatePayload(ctx, jobID, encoded); err != nil {
		return fmt.Errorf("worker: persist job state: %w", err)
	}
	return nil
}

func (w *Worker) updateProgress(ctx context.Context, jobID string, userID int64, progress int) {
	if err := w.queue.UpdateProgress(ctx, jobID, progress); err != nil {
		w.log.WarnContext(ctx, "failed to update progress",
			"job_id", jobID,
			"error", err,
		)
	}
	w.publishTransactionEvent(ctx, userID, jobID, eventbus.EventTransactionProgress, "in_progress", progress, "")
}

func (w *Worker) appendJournal(ctx context.Context, jobID, step string, typ JournalEntryType, data any) {
	var raw json.RawMessage
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			raw = encoded
		}
	}
	if _, err := w.journal.Append(ctx, JournalEntry{
		JobID: jobID,
		Step:  step,
		Type:  typ,
		Data:  raw,
	}); err != nil {
		w.log.WarnContext(ctx, "journal append failed",
			"job_id", jobID,
			"type", string(typ),
			"error", err,
		)
	}
}

func (w *Worker) publishTransactionEvent(ctx context.Context, userID int64, jobID, eventType, status string, progress int, errMsg string) {
	if w.events == nil {
		return
	}
	_, err := w.events.PublishLifecycleEvent(ctx, eventbus.LifecycleEvent{
		Domain:    eventbus.DomainTransaction,
		EventType: eventType,
		ShardKey:  fmt.Sprintf("%d", userID),
		JobID:     jobID,
		Payload: eventbus.TransactionEvent{
			JobID:    jobID,
			UserID:   userID,
			Status:   status,
			Progress: progress,
			Error:    errMsg,
		},
	})
	if err != nil {
		w.log.WarnContext(ctx, "failed to publish transaction event",
			"job_id", jobID,
			"event", eventType,
			"error", err,
		)
	}
}

func (w *Worker) publishStepEvent(ctx context.Context, userID int64, jobID, step, eventType, status, errMsg string) {
	if w.events == nil {
		return
	}
	_, err := w.events.PublishLifecycleEvent(ctx, eventbus.LifecycleEvent{
		Domain:    eventbus.DomainStep,
		EventType: eventType,
		ShardKey:  fmt.Sprintf("%d", userID),
		JobID:     jobID,
		Step:      step,
		Payload: eventbus.TransactionEvent{
			JobID:  jobID,
			UserID: userID,
			Step:   step,
			Status: status,
			Error:  errMsg,
		},
	})
	if err != nil {
		w.log.WarnContext(ctx, "failed to publish step event",
			"job_id", jobID,
			"step", step,
			"event", eventType,
			"error", err,
		)
	}
}

// failedStepName finds the step a terminal failure points at.
func failedStepName(p *Payload) string {
	for _, st := range p.Steps {
		if st.Status == StepStatusFailed {
			return st.Name
		}
	}
	if p.CurrentStepIndex >= 0 && p.CurrentStepIndex < len(p.Steps) {
		return p.Steps[p.CurrentStepIndex].Name
	}
	return ""
}

func resetPayload(p *Payload) {
	for i := range p.Steps {
		p.Steps[i].Status = StepStatusPending
		p.Steps[i].Result = nil
	}
	p.CurrentStepIndex = 0
}
