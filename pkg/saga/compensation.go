package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tranor/tranor/pkg/logger"
)

const (
	compensationFailurePrefix   = "compensation_failure:"
	compensationFailureIndexKey = "compensation_failures:index"

	// compensationFailureTTL bounds how long operators have to retry a
	// failed compensation before the record self-destructs.
	compensationFailureTTL = 7 * 24 * time.Hour
)

// compensationRetryableTerms mark compensation failures a retry can fix.
var compensationRetryableTerms = []string{
	"connection refused",
	"timeout",
	"lock wait timeout",
	"connection lost",
	"service unavailable",
	"redis connection",
}

// compensationTerminalTerms win over retryable on a double match.
var compensationTerminalTerms = []string{
	"not found",
	"invalid parameter",
	"permission denied",
	"constraint",
}

func classifyCompensationError(err error) (retryable bool) {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, term := range compensationTerminalTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}
	for _, term := range compensationRetryableTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// TrailEntry is one completed step eligible for compensation, in
// execution order.
type TrailEntry struct {
	Step   string
	Result any
	Def    StepDefinition
}

// FailureRecord is one persisted compensation failure awaiting an
// operator.
type FailureRecord struct {
	Key          string    `json:"key"`
	JobID        string    `json:"jobId"`
	Step         string    `json:"step"`
	StepResult   any       `json:"stepResult,omitempty"`
	ErrorMessage string    `json:"errorMessage"`
	Stack        string    `json:"stack,omitempty"`
	Retryable    bool      `json:"retryable"`
	FailedAt     time.Time `json:"failedAt"`
}

// Compensator undoes completed steps in reverse order. Failures never
// abort the sweep: every remaining entry still gets its chance to undo,
// and each failure is persisted for operator retry.
type Compensator struct {
	rdb      redis.Cmdable
	registry *Registry
	journal  Journal
	log      logger.Logger
	metrics  MetricsRecorder
}

// CompensatorOption customizes a Compensator.
type CompensatorOption func(*Compensator)

// WithCompensatorLogger sets the logger.
func WithCompensatorLogger(log logger.Logger) CompensatorOption {
	return func(c *Compensator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCompensatorJournal sets the journal.
func WithCompensatorJournal(j Journal) CompensatorOption {
	return func(c *Compensator) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithCompensatorMetrics sets the metrics recorder.
func WithCompensatorMetrics(m MetricsRecorder) CompensatorOption {
	return func(c *Compensator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCompensator creates a Compensator.
func NewCompensator(rdb redis.Cmdable, registry *Registry, opts ...CompensatorOption) *Compensator {
	c := &Compensator{
		rdb:      rdb,
		registry: registry,
		journal:  NopJournal{},
		log:      logger.Global(),
		metrics:  &nopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run compensates the trail in reverse order and returns the number of
// compensations that failed. Entries without a compensate function are
// skipped.
func (c *Compensator) Run(ctx context.Context, jobID string, userID int64, trail []TrailEntry) int {
	if len(trail) == 0 {
		return 0
	}

	ctx, span := transactionTracer().Start(ctx, spanTransactionCompensate,
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.Int("trail.length", len(trail)),
		))
	defer span.End()

	start := time.Now()
	failed := 0
	for i := len(trail) - 1; i >= 0; i-- {
		entry := trail[i]
		if entry.Def.Compensate == nil {
			continue
		}

		c.journalEntry(ctx, jobID, entry.Step, JournalCompensationStarted, nil)
		err := c.compensateStep(ctx, jobID, userID, entry)
		if err == nil {
			c.metrics.RecordCompensation(StatusCompleted)
			c.journalEntry(ctx, jobID, entry.Step, JournalCompensationCompleted, nil)
			c.log.InfoContext(ctx, "step compensated",
				"job_id", jobID,
				"step", entry.Step,
			)
			continue
		}

		failed++
		c.metrics.RecordCompensation(StatusFailed)
		c.journalEntry(ctx, jobID, entry.Step, JournalCompensationFailed,
			map[string]string{"error": err.Error()})
		c.log.ErrorContext(ctx, "compensation failed",
			"job_id", jobID,
			"step", entry.Step,
			"error", err,
		)
		if recordErr := c.recordFailure(ctx, jobID, entry, err); recordErr != nil {
			c.log.ErrorContext(ctx, "failed to persist compensation failure",
				"job_id", jobID,
				"step", entry.Step,
				"error", recordErr,
			)
		}
	}
	c.metrics.RecordCompensationDuration(time.Since(start))
	return failed
}

func (c *Compensator) compensateStep(ctx context.Context, jobID string, userID int64, entry TrailEntry) error {
	ctx, span := transactionTracer().Start(ctx, spanCompensationStep,
		trace.WithAttributes(attribute.String("step.name", entry.Step)))
	defer span.End()

	err := entry.Def.Compensate(ctx, &CompensateContext{
		JobID:    jobID,
		UserID:   userID,
		StepName: entry.Step,
		Result:   entry.Result,
	})
	if err != nil {
		return &CompensationError{Step: entry.Step, Err: err}
	}
	return nil
}

// recordFailure persists one compensation failure under a 7 day TTL and
// indexes it for ListFailures.
func (c *Compensator) recordFailure(ctx context.Context, jobID string, entry TrailEntry, cause error) error {
	key := FailureKey(jobID, entry.Step)

	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		resultJSON = []byte("null")
	}

	fields := map[string]any{
		"job_id":        jobID,
		"step_name":     entry.Step,
		"step_result":   string(resultJSON),
		"error_message": cause.Error(),
		"stack":         string(debug.Stack()),
		"retryable":     strconv.FormatBool(classifyCompensationError(cause)),
		"failed_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, compensationFailureTTL)
		pipe.SAdd(ctx, compensationFailureIndexKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record compensation failure: %w", err)
	}
	return nil
}

// RetryFailure re-runs one persisted compensation failure by its record
// key. On success the record is removed.
func (c *Compensator) RetryFailure(ctx context.Context, key string) error {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("load compensation failure: %w", err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("compensation failure %s: %w", key, ErrFailureNotFound)
	}

	stepName := fields["step_name"]
	def, ok := c.registry.Get(stepName)
	if !ok {
		return &StepNotFoundError{Step: stepName}
	}
	if def.Compensate == nil {
		return fmt.Errorf("step %s has no compensate function registered", stepName)
	}

	var result any
	if raw := fields["step_result"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &result)
	}

	c.metrics.RecordCompensationRetry()
	err = def.Compensate(ctx, &CompensateContext{
		JobID:    fields["job_id"],
		StepName: stepName,
		Result:   result,
	})
	if err != nil {
		return &CompensationError{Step: stepName, Err: err}
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, compensationFailureIndexKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear compensation failure: %w", err)
	}

	c.log.InfoContext(ctx, "compensation retried successfully",
		"key", key,
		"step", stepName,
	)
	return nil
}

// ListFailures returns every live compensation failure. Index members
// whose record expired are pruned as they are discovered.
func (c *Compensator) ListFailures(ctx context.Context) ([]FailureRecord, error) {
	keys, err := c.rdb.SMembers(ctx, compensationFailureIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list compensation failures: %w", err)
	}

	records := make([]FailureRecord, 0, len(keys))
	for _, key := range keys {
		fields, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("load compensation failure: %w", err)
		}
		if len(fields) == 0 {
			// TTL ran out; drop the dangling index member.
			_ = c.rdb.SRem(ctx, compensationFailureIndexKey, key).Err()
			continue
		}

		rec := FailureRecord{
			Key:          key,
			JobID:        fields["job_id"],
			Step:         fields["step_name"],
			ErrorMessage: fields["error_message"],
			Stack:        fields["stack"],
		}
		rec.Retryable, _ = strconv.ParseBool(fields["retryable"])
		if raw := fields["failed_at"]; raw != "" {
			rec.FailedAt, _ = time.Parse(time.RFC3339Nano, raw)
		}
		if raw := fields["step_result"]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &rec.StepResult)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Compensator) journalEntry(ctx context.Context, jobID, step string, typ JournalEntryType, data any) {
	var raw json.RawMessage
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			raw = encoded
		}
	}
	if _, err := c.journal.Append(ctx, JournalEntry{
		JobID: jobID,
		Step:  step,
		Type:  typ,
		Data:  raw,
	}); err != nil {
		c.log.WarnContext(ctx, "journal append failed",
			"job_id", jobID,
			"type", string(typ),
			"error", err,
		)
	}
}

// FailureKey builds the record key for one compensation failure.
func FailureKey(jobID, stepName string) string {
	return compensationFailurePrefix + jobID + ":" + stepName
}
