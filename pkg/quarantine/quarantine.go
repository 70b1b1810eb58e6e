// Package quarantine is the dead-letter store for jobs that exhausted
// their delivery attempts. Records carry everything an operator needs to
// triage: the failed step, the original payload, the completed trail and
// a retryability classification.
package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/pkg/logger"
)

const (
	recordKeyPrefix = "dlq:"
	activeIndexKey  = "dlq:job_ids"
	highIndexKey    = "dlq:high_priority"
	processedKey    = "dlq:processed"
)

// NotFoundError is returned when a dlq id has no record behind it.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("quarantine record %s not found", e.ID)
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// Record is one quarantined job.
type Record struct {
	DLQID           string          `json:"dlqId"`
	OriginalJobID   string          `json:"originalJobId"`
	UserID          int64           `json:"userId"`
	FailedStep      string          `json:"failedStep"`
	FailureReason   string          `json:"failureReason"`
	Stack           string          `json:"stack,omitempty"`
	CompletedSteps  []string        `json:"completedSteps"`
	OriginalJobData json.RawMessage `json:"originalJobData,omitempty"`
	BusinessContext map[string]any  `json:"businessContext,omitempty"`
	Attempt         int             `json:"attempt"`
	Classification  string          `json:"classification"`
	CanRetry        bool            `json:"canRetry"`
	Priority        string          `json:"priority"`
	FailedAt        time.Time       `json:"failedAt"`
	ProcessedAt     time.Time       `json:"processedAt,omitzero"`
	ProcessorNote   string          `json:"processorNote,omitempty"`
}

// Stats summarizes the quarantine for dashboards.
type Stats struct {
	TotalActive    int64      `json:"totalActive"`
	HighPriority   int64      `json:"highPriority"`
	TotalProcessed int64      `json:"totalProcessed"`
	OldestFailure  *time.Time `json:"oldestFailure,omitempty"`
}

// Store persists quarantine records in Redis.
type Store struct {
	rdb redis.Cmdable
	log logger.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore creates a quarantine store.
func NewStore(rdb redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		rdb: rdb,
		log: logger.Global(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Add stores a record and indexes it. The dlq id is derived from the
// original job id and attempt, so re-adding after a crashed quarantine
// write is a no-op and returns the existing id.
func (s *Store) Add(ctx context.Context, rec Record) (string, error) {
	if rec.OriginalJobID == "" {
		return "", fmt.Errorf("quarantine: record needs an original job id")
	}
	if rec.DLQID == "" {
		rec.DLQID = fmt.Sprintf("%s:%d", rec.OriginalJobID, rec.Attempt)
	}

	added, err := s.rdb.SAdd(ctx, activeIndexKey, rec.DLQID).Result()
	if err != nil {
		return "", fmt.Errorf("quarantine: index add: %w", err)
	}
	if added == 0 {
		return rec.DLQID, nil
	}

	if rec.Classification == "" {
		rec.Classification, rec.CanRetry, rec.Priority = Classify(rec.FailureReason)
	}
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now().UTC()
	}

	fields, err := recordToFields(&rec)
	if err != nil {
		_ = s.rdb.SRem(context.Background(), activeIndexKey, rec.DLQID).Err()
		return "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKeyPrefix+rec.DLQID, fields)
		if rec.Priority == PriorityHigh {
			pipe.SAdd(ctx, highIndexKey, rec.DLQID)
		}
		return nil
	})
	if err != nil {
		_ = s.rdb.SRem(context.Background(), activeIndexKey, rec.DLQID).Err()
		return "", fmt.Errorf("quarantine: store record: %w", err)
	}

	s.log.InfoContext(ctx, "job quarantined",
		"dlq_id", rec.DLQID,
		"job_id", rec.OriginalJobID,
		"failed_step", rec.FailedStep,
		"classification", rec.Classification,
		"can_retry", rec.CanRetry,
	)
	return rec.DLQID, nil
}

// Get loads a single record by dlq id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, recordKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("quarantine: load record: %w", err)
	}
	if len(fields) == 0 {
		return nil, &NotFoundError{ID: id}
	}
	return recordFromFields(id, fields), nil
}

// GetAllActive returns every unhandled record, oldest failure first.
func (s *Store) GetAllActive(ctx context.Context) ([]Record, error) {
	return s.collect(ctx, func() ([]string, error) {
		return s.rdb.SMembers(ctx, activeIndexKey).Result()
	})
}

// GetHighPriority returns unhandled retryable records, oldest first.
func (s *Store) GetHighPriority(ctx context.Context) ([]Record, error) {
	return s.collect(ctx, func() ([]string, error) {
		return s.rdb.SInter(ctx, activeIndexKey, highIndexKey).Result()
	})
}

func (s *Store) collect(ctx context.Context, ids func() ([]string, error)) ([]Record, error) {
	members, err := ids()
	if err != nil {
		return nil, fmt.Errorf("quarantine: list records: %w", err)
	}

	records := make([]Record, 0, len(members))
	for _, id := range members {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].FailedAt.Before(records[j].FailedAt)
	})
	return records, nil
}

// MarkHandled moves a record out of the active and high-priority sets and
// stamps who-handled-it metadata. Handling an already-handled record just
// refreshes the note.
func (s *Store) MarkHandled(ctx context.Context, id, note string) error {
	exists, err := s.rdb.Exists(ctx, recordKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("quarantine: check record: %w", err)
	}
	if exists == 0 {
		return &NotFoundError{ID: id}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, activeIndexKey, id)
		pipe.SRem(ctx, highIndexKey, id)
		pipe.SAdd(ctx, processedKey, id)
		pipe.HSet(ctx, recordKeyPrefix+id,
			fieldProcessedAt, time.Now().UTC().Format(time.RFC3339Nano),
			fieldProcessorNote, note,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("quarantine: mark handled: %w", err)
	}

	s.log.InfoContext(ctx, "quarantine record handled", "dlq_id", id)
	return nil
}

// Stats returns quarantine counters and the age of the oldest active
// failure.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	active, err := s.rdb.SCard(ctx, activeIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("quarantine: stats: %w", err)
	}
	high, err := s.rdb.SCard(ctx, highIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("quarantine: stats: %w", err)
	}
	processed, err := s.rdb.SCard(ctx, processedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("quarantine: stats: %w", err)
	}

	stats := &Stats{
		TotalActive:    active,
		HighPriority:   high,
		TotalProcessed: processed,
	}
	if active > 0 {
		records, err := s.GetAllActive(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			oldest := records[0].FailedAt
			stats.OldestFailure = &oldest
		}
	}
	return stats, nil
}

const (
	fieldOriginalJobID   = "original_job_id"
	fieldUserID          = "user_id"
	fieldFailedStep      = "failed_step"
	fieldFailureReason   = "failure_reason"
	fieldStack           = "stack"
	fieldCompletedSteps  = "completed_steps"
	fieldOriginalJobData = "original_job_data"
	fieldBusinessContext = "business_context"
	fieldAttempt         = "attempt"
	fieldClassification  = "classification"
	fieldCanRetry        = "can_retry"
	fieldPriority        = "priority"
	fieldFailedAt        = "failed_at"
	fieldProcessedAt     = "processed_at"
	fieldProcessorNote   = "processor_note"
)

func recordToFields(rec *Record) (map[string]any, error) {
	completed, err := json.Marshal(rec.CompletedSteps)
	if err != nil {
		return nil, fmt.Errorf("quarantine: encode completed steps: %w", err)
	}

	fields := map[string]any{
		fieldOriginalJobID:  rec.OriginalJobID,
		fieldUserID:         rec.UserID,
		fieldFailedStep:     rec.FailedStep,
		fieldFailureReason:  rec.FailureReason,
		fieldStack:          rec.Stack,
		fieldCompletedSteps: string(completed),
		fieldAttempt:        rec.Attempt,
		fieldClassification: rec.Classification,
		fieldCanRetry:       strconv.FormatBool(rec.CanRetry),
		fieldPriority:       rec.Priority,
		fieldFailedAt:       rec.FailedAt.Format(time.RFC3339Nano),
	}
	if len(rec.OriginalJobData) > 0 {
		fields[fieldOriginalJobData] = string(rec.OriginalJobData)
	}
	if len(rec.BusinessContext) > 0 {
		bc, err := json.Marshal(rec.BusinessContext)
		if err != nil {
			return nil, fmt.Errorf("quarantine: encode business context: %w", err)
		}
		fields[fieldBusinessContext] = string(bc)
	}
	return fields, nil
}

func recordFromFields(id string, fields map[string]string) *Record {
	rec := &Record{
		DLQID:          id,
		OriginalJobID:  fields[fieldOriginalJobID],
		FailedStep:     fields[fieldFailedStep],
		FailureReason:  fields[fieldFailureReason],
		Stack:          fields[fieldStack],
		Classification: fields[fieldClassification],
		Priority:       fields[fieldPriority],
		ProcessorNote:  fields[fieldProcessorNote],
	}
	rec.UserID, _ = strconv.ParseInt(fields[fieldUserID], 10, 64)
	rec.Attempt, _ = strconv.Atoi(fields[fieldAttempt])
	rec.CanRetry, _ = strconv.ParseBool(fields[fieldCanRetry])
	if raw := fields[fieldCompletedSteps]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.CompletedSteps)
	}
	if raw := fields[fieldOriginalJobData]; raw != "" {
		rec.OriginalJobData = json.RawMessage(raw)
	}
	if raw := fields[fieldBusinessContext]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.BusinessContext)
	}
	if raw := fields[fieldFailedAt]; raw != "" {
		rec.FailedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw := fields[fieldProcessedAt]; raw != "" {
		rec.ProcessedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return rec
}
