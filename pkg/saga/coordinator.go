package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tranor/tranor/pkg/eventbus"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/queue"
)

const (
	idempotencyKeyPrefix = "idempotent:"

	// DefaultIdempotencyTTL bounds how long a submission key stays bound
	// to its job id.
	DefaultIdempotencyTTL = time.Hour
)

// JobQueue is the queue surface the coordinator and worker rely on.
type JobQueue interface {
	Enqueue(ctx context.Context, payload []byte, opts ...queue.EnqueueOption) (*queue.Job, error)
	Job(ctx context.Context, id string) (*queue.Job, error)
	UpdatePayload(ctx context.Context, id string, payload []byte) error
	UpdateProgress(ctx context.Context, id string, progress int) error
}

// QuarantineStore is the quarantine surface exposed to operators through
// the coordinator facade.
type QuarantineStore interface {
	GetAllActive(ctx context.Context) ([]quarantine.Record, error)
	GetHighPriority(ctx context.Context) ([]quarantine.Record, error)
	MarkHandled(ctx context.Context, id, note string) error
	Stats(ctx context.Context) (*quarantine.Stats, error)
}

// EventPublisher fans transaction lifecycle events to subscribers.
type EventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event eventbus.LifecycleEvent) (eventbus.Envelope, error)
}

// Coordinator is the submission side of the transaction pipeline: it
// turns a step list into a queued job and answers status and operator
// queries. Execution happens in the Worker, possibly in another process.
type Coordinator struct {
	queue       JobQueue
	rdb         redis.Cmdable
	registry    *Registry
	quarantine  QuarantineStore
	compensator *Compensator
	journal     Journal
	events      EventPublisher
	log         logger.Logger
	metrics     MetricsRecorder

	idempotencyTTL  time.Duration
	defaultAttempts int
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithQuarantine wires the quarantine store for operator queries.
func WithQuarantine(store QuarantineStore) CoordinatorOption {
	return func(c *Coordinator) { c.quarantine = store }
}

// WithCompensator wires the compensator for failure queries and retries.
func WithCompensator(comp *Compensator) CoordinatorOption {
	return func(c *Coordinator) { c.compensator = comp }
}

// WithCoordinatorJournal wires the execution journal for post-mortem reads.
func WithCoordinatorJournal(j Journal) CoordinatorOption {
	return func(c *Coordinator) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithCoordinatorEvents wires the lifecycle event publisher.
func WithCoordinatorEvents(events EventPublisher) CoordinatorOption {
	return func(c *Coordinator) { c.events = events }
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(log logger.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCoordinatorMetrics sets the metrics recorder.
func WithCoordinatorMetrics(m MetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithIdempotencyTTL overrides how long idempotency keys stay bound.
func WithIdempotencyTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.idempotencyTTL = ttl
		}
	}
}

// WithDefaultAttempts sets the delivery budget used when a submission
// does not choose one.
func WithDefaultAttempts(attempts int) CoordinatorOption {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.defaultAttempts = attempts
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(q JobQueue, rdb redis.Cmdable, registry *Registry, opts ...CoordinatorOption) (*Coordinator, error) {
	if q == nil {
		return nil, fmt.Errorf("coordinator: queue cannot be nil")
	}
	if rdb == nil {
		return nil, fmt.Errorf("coordinator: redis client cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("coordinator: registry cannot be nil")
	}
	c := &Coordinator{
		queue:           q,
		rdb:             rdb,
		registry:        registry,
		journal:         NopJournal{},
		log:             logger.Global(),
		metrics:         &nopMetricsRecorder{},
		idempotencyTTL:  DefaultIdempotencyTTL,
		defaultAttempts: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ExecuteOptions carries per-submission overrides.
type ExecuteOptions struct {
	Resources       []Resource
	IdempotencyKey  string
	Attempts        int
	BusinessContext map[string]any
}

// ExecuteOption customizes one submission.
type ExecuteOption func(*ExecuteOptions)

// WithResources declares the resource set the transaction locks. Without
// it the transaction serializes on its user.
func WithResources(resources []Resource) ExecuteOption {
	return func(o *ExecuteOptions) { o.Resources = resources }
}

// WithIdempotencyKey makes repeated submissions with the same key return
// the first submission's job id instead of enqueueing again.
func WithIdempotencyKey(key string) ExecuteOption {
	return func(o *ExecuteOptions) { o.IdempotencyKey = key }
}

// WithExecuteAttempts sets the delivery budget for this submission.
func WithExecuteAttempts(attempts int) ExecuteOption {
	return func(o *ExecuteOptions) { o.Attempts = attempts }
}

// WithBusinessContext attaches caller metadata carried through the
// payload into quarantine records.
func WithBusinessContext(bc map[string]any) ExecuteOption {
	return func(o *ExecuteOptions) { o.BusinessContext = bc }
}

// Execute submits a logical transaction and returns its job id. The
// steps run later, when a worker picks the job up.
func (c *Coordinator) Execute(ctx context.Context, userID int64, stepNames []string, opts ...ExecuteOption) (string, error) {
	options := ExecuteOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if len(stepNames) == 0 {
		return "", ErrNoSteps
	}

	ctx, span := transactionTracer().Start(ctx, spanTransactionSubmit,
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int("steps.count", len(stepNames)),
		))
	defer span.End()

	if options.IdempotencyKey != "" {
		existing, err := c.rdb.Get(ctx, idempotencyKeyPrefix+options.IdempotencyKey).Result()
		if err != nil && err != redis.Nil {
			return "", fmt.Errorf("coordinator: idempotency lookup: %w", err)
		}
		if err == nil && existing != "" {
			c.log.InfoContext(ctx, "idempotent submission replayed",
				"idempotency_key", options.IdempotencyKey,
				"job_id", existing,
			)
			return existing, nil
		}
	}

	for _, name := range stepNames {
		if !c.registry.Has(name) {
			c.log.WarnContext(ctx, "submitting transaction with unregistered step",
				"step", name,
				"user_id", userID,
			)
		}
	}

	payload := NewPayload(userID, stepNames, options.Resources)
	payload.IdempotencyKey = options.IdempotencyKey
	payload.BusinessContext = options.BusinessContext
	if err := payload.Validate(); err != nil {
		return "", err
	}
	encoded, err := payload.Encode()
	if err != nil {
		return "", err
	}

	attempts := options.Attempts
	if attempts <= 0 {
		attempts = c.defaultAttempts
	}
	job, err := c.queue.Enqueue(ctx, encoded, queue.WithAttempts(attempts))
	if err != nil {
		return "", fmt.Errorf("coordinator: enqueue transaction: %w", err)
	}

	if options.IdempotencyKey != "" {
		err := c.rdb.Set(ctx, idempotencyKeyPrefix+options.IdempotencyKey, job.ID, c.idempotencyTTL).Err()
		if err != nil {
			// The job is already queued; the binding is best effort.
			c.log.WarnContext(ctx, "failed to bind idempotency key",
				"idempotency_key", options.IdempotencyKey,
				"job_id", job.ID,
				"error", err,
			)
		}
	}

	span.SetAttributes(attribute.String("job.id", job.ID))
	c.log.InfoContext(ctx, "transaction submitted",
		"job_id", job.ID,
		"user_id", userID,
		"steps", len(stepNames),
		"attempts", attempts,
	)
	c.publishTransactionEvent(ctx, eventbus.EventTransactionSubmitted, payload.UserID, job.ID, eventbus.TransactionEvent{
		JobID:  job.ID,
		UserID: payload.UserID,
		Status: string(queue.StateWaiting),
	})
	return job.ID, nil
}

// Status is a caller-facing view of one transaction.
type Status struct {
	ID           string    `json:"id"`
	QueueState   string    `json:"state"`
	Progress     int       `json:"progress"`
	AttemptsMade int       `json:"attemptsMade"`
	AttemptsMax  int       `json:"attemptsMax"`
	CreatedAt    time.Time `json:"createdAt"`
	ProcessedOn  time.Time `json:"processedOn,omitzero"`
	FinishedOn   time.Time `json:"finishedOn,omitzero"`
	FailedReason string    `json:"failedReason,omitempty"`
	Payload      *Payload  `json:"payload"`
}

// Status reports queue state plus decoded payload for one transaction.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*Status, error) {
	job, err := c.queue.Job(ctx, jobID)
	if err != nil {
		if queue.IsJobNotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("coordinator: load job: %w", err)
	}
	payload, err := DecodePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	return &Status{
		ID:           job.ID,
		QueueState:   string(job.State),
		Progress:     job.Progress,
		AttemptsMade: job.AttemptsMade,
		AttemptsMax:  job.AttemptsMax,
		CreatedAt:    job.CreatedAt,
		ProcessedOn:  job.ProcessedOn,
		FinishedOn:   job.FinishedOn,
		FailedReason: job.FailedReason,
		Payload:      payload,
	}, nil
}

// Steps lists the registered step names, for ops visibility.
func (c *Coordinator) Steps() []string {
	return c.registry.List()
}

// JournalEntries returns the persisted execution journal for one job.
func (c *Coordinator) JournalEntries(ctx context.Context, jobID string) ([]JournalEntry, error) {
	return c.journal.List(ctx, jobID)
}

// QuarantineStats reports quarantine counters.
func (c *Coordinator) QuarantineStats(ctx context.Context) (*quarantine.Stats, error) {
	if c.quarantine == nil {
		return nil, fmt.Errorf("coordinator: quarantine store not configured")
	}
	return c.quarantine.Stats(ctx)
}

// ActiveQuarantine lists unhandled quarantine records, oldest first.
func (c *Coordinator) ActiveQuarantine(ctx context.Context) ([]quarantine.Record, error) {
	if c.quarantine == nil {
		return nil, fmt.Errorf("coordinator: quarantine store not configured")
	}
	return c.quarantine.GetAllActive(ctx)
}

// RetryableQuarantine lists unhandled records whose failures look
// transient.
func (c *Coordinator) RetryableQuarantine(ctx context.Context) ([]quarantine.Record, error) {
	if c.quarantine == nil {
		return nil, fmt.Errorf("coordinator: quarantine store not configured")
	}
	return c.quarantine.GetHighPriority(ctx)
}

// MarkQuarantineHandled moves a record to the processed set.
func (c *Coordinator) MarkQuarantineHandled(ctx context.Context, id, note string) error {
	if c.quarantine == nil {
		return fmt.Errorf("coordinator: quarantine store not configured")
	}
	return c.quarantine.MarkHandled(ctx, id, note)
}

// CompensationFailures lists persisted compensation failures.
func (c *Coordinator) CompensationFailures(ctx context.Context) ([]FailureRecord, error) {
	if c.compensator == nil {
		return nil, fmt.Errorf("coordinator: compensator not configured")
	}
	return c.compensator.ListFailures(ctx)
}

// RetryCompensationFailure re-runs one persisted compensation failure.
func (c *Coordinator) RetryCompensationFailure(ctx context.Context, key string) error {
	if c.compensator == nil {
		return fmt.Errorf("coordinator: compensator not configured")
	}
	return c.compensator.RetryFailure(ctx, key)
}

func (c *Coordinator) publishTransactionEvent(ctx context.Context, eventType string, userID int64, jobID string, event eventbus.TransactionEvent) {
	if c.events == nil {
		return
	}
	_, err := c.events.PublishLifecycleEvent(ctx, eventbus.LifecycleEvent{
		Domain:    eventbus.DomainTransaction,
		EventType: eventType,
		ShardKey:  fmt.Sprintf("%d", userID),
		JobID:     jobID,
		Payload:   event,
	})
	if err != nil {
		c.log.WarnContext(ctx, "failed to publish transaction event",
			"job_id", jobID,
			"event", eventType,
			"error", err,
		)
	}
}
