package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// extendLeaseScript refreshes a lease only while the caller still owns it.
var extendLeaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Queue is a durable FIFO job queue over Redis.
type Queue struct {
	client redis.Cmdable
	config *Config

	// Redis keys
	pendingKey string // list of waiting job ids
	activeKey  string // list of leased job ids
	dedupKey   string // set of enqueue dedup anchors

	// Statistics
	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	stalled   atomic.Int64

	metrics MetricsRecorder

	// Lifecycle hooks, set before consumers run.
	onCompleted func(*Job)
	onFailed    func(*Job)
	onProgress  func(jobID string, progress int)
}

// New creates a Queue on the given Redis client.
func New(client redis.Cmdable, config *Config) (*Queue, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	return &Queue{
		client:     client,
		config:     config,
		pendingKey: config.Prefix + ":pending",
		activeKey:  config.Prefix + ":active",
		dedupKey:   config.Prefix + ":dedup",
		metrics:    &nopMetrics{},
	}, nil
}

// SetMetrics sets the metrics recorder.
func (q *Queue) SetMetrics(m MetricsRecorder) {
	if m != nil {
		q.metrics = m
	}
}

// OnCompleted registers a hook fired after a job completes.
func (q *Queue) OnCompleted(fn func(*Job)) { q.onCompleted = fn }

// OnFailed registers a hook fired after a job fails terminally.
func (q *Queue) OnFailed(fn func(*Job)) { q.onFailed = fn }

// OnProgress registers a hook fired after a progress update.
func (q *Queue) OnProgress(fn func(jobID string, progress int)) { q.onProgress = fn }

// EnqueueOptions control a single enqueue.
type EnqueueOptions struct {
	// JobID overrides the generated job id.
	JobID string

	// Attempts is the delivery budget. Zero means one attempt.
	Attempts int

	// DedupKey rejects a second enqueue carrying the same anchor while the
	// first is still waiting or active. Empty disables deduplication.
	DedupKey string
}

// EnqueueOption mutates EnqueueOptions.
type EnqueueOption func(*EnqueueOptions)

// WithJobID sets an explicit job id.
func WithJobID(id string) EnqueueOption {
	return func(o *EnqueueOptions) { o.JobID = id }
}

// WithAttempts sets the delivery budget.
func WithAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Attempts = n }
}

// WithDedupKey sets the enqueue dedup anchor.
func WithDedupKey(key string) EnqueueOption {
	return func(o *EnqueueOptions) { o.DedupKey = key }
}

// Enqueue persists a job and appends it to the pending list.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, opts ...EnqueueOption) (job *Job, err error) {
	options := &EnqueueOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.JobID == "" {
		options.JobID = uuid.NewString()
	}
	if options.Attempts < 1 {
		options.Attempts = 1
	}

	dedupAdded := false
	if options.DedupKey != "" {
		added, sErr := q.client.SAdd(ctx, q.dedupKey, options.DedupKey).Result()
		if sErr != nil {
			return nil, fmt.Errorf("dedup check failed: %w", sErr)
		}
		if added == 0 {
			return nil, &DuplicateJobError{Anchor: options.DedupKey}
		}
		dedupAdded = true
		if q.config.DedupTTL > 0 {
			_ = q.client.Expire(ctx, q.dedupKey, q.config.DedupTTL).Err()
		}
	}
	defer func() {
		if err != nil && dedupAdded {
			_ = q.client.SRem(context.Background(), q.dedupKey, options.DedupKey).Err()
		}
	}()

	job = &Job{
		ID:          options.JobID,
		Payload:     payload,
		State:       StateWaiting,
		AttemptsMax: options.Attempts,
		DedupKey:    options.DedupKey,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID), job.toFields())
		pipe.LPush(ctx, q.pendingKey, job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.enqueued.Add(1)
	q.metrics.RecordEnqueued()
	q.refreshDepth(ctx)
	return job, nil
}

// Job loads a job by id.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, &JobNotFoundError{JobID: id}
	}
	return jobFromFields(id, fields), nil
}

// Fetch blocks up to timeout for the next waiting job, moves it to the
// active list and grants owner a lease for the visibility window. It
// returns (nil, nil) when no job arrived within the timeout.
func (q *Queue) Fetch(ctx context.Context, owner string, timeout, visibility time.Duration) (*Delivery, error) {
	id, err := q.client.BLMove(ctx, q.pendingKey, q.activeKey, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load fetched job: %w", err)
	}
	if len(fields) == 0 {
		// Orphan id with no hash behind it. Drop it and move on.
		_ = q.client.LRem(ctx, q.activeKey, 1, id).Err()
		return nil, nil
	}
	job := jobFromFields(id, fields)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.leaseKey(id), owner, visibility)
		pipe.HSet(ctx, q.jobKey(id),
			fieldState, string(StateActive),
			fieldProcessedOn, time.Now().UTC().UnixMilli(),
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	q.refreshDepth(ctx)
	return &Delivery{
		JobID:       id,
		Payload:     job.Payload,
		Attempt:     job.AttemptsMade + 1,
		MaxAttempts: job.AttemptsMax,
	}, nil
}

// ExtendLease refreshes the visibility window while owner still holds the
// lease. It returns false when the lease lapsed or was reassigned, in
// which case the owner must stop working the job.
func (q *Queue) ExtendLease(ctx context.Context, id, owner string, visibility time.Duration) (bool, error) {
	res, err := extendLeaseScript.Run(ctx, q.client,
		[]string{q.leaseKey(id)}, owner, visibility.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend lease: %w", err)
	}
	return res == 1, nil
}

// UpdatePayload replaces the stored payload of a live job. Workers call
// this before and after each step so a crash resumes from the last
// persisted cursor.
func (q *Queue) UpdatePayload(ctx context.Context, id string, payload []byte) error {
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if exists == 0 {
		return &JobNotFoundError{JobID: id}
	}
	if err := q.client.HSet(ctx, q.jobKey(id), fieldPayload, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to update payload: %w", err)
	}
	return nil
}

// UpdateProgress records job progress in percent.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return &InvalidProgressError{Progress: progress}
	}
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if exists == 0 {
		return &JobNotFoundError{JobID: id}
	}
	if err := q.client.HSet(ctx, q.jobKey(id), fieldProgress, progress).Err(); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if q.onProgress != nil {
		q.onProgress(id, progress)
	}
	return nil
}

// Complete marks a job done and releases its lease.
func (q *Queue) Complete(ctx context.Context, id string) (*Job, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id),
			fieldState, string(StateCompleted),
			fieldProgress, 100,
			fieldFinishedOn, now.UnixMilli(),
		)
		pipe.LRem(ctx, q.activeKey, 1, id)
		pipe.Del(ctx, q.leaseKey(id))
		if job.DedupKey != "" {
			pipe.SRem(ctx, q.dedupKey, job.DedupKey)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	job.State = StateCompleted
	job.Progress = 100
	job.FinishedOn = now

	q.completed.Add(1)
	q.metrics.RecordCompleted()
	q.refreshDepth(ctx)
	if q.onCompleted != nil {
		q.onCompleted(job)
	}
	return job, nil
}

// Fail records a failed attempt. While attempts remain the job returns to
// the pending list; otherwise it lands in the failed state. The bool
// reports whether the job was re-queued.
func (q *Queue) Fail(ctx context.Context, id, reason string) (*Job, bool, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return nil, false, err
	}

	job.AttemptsMade++
	job.FailedReason = reason
	if job.AttemptsMade < job.AttemptsMax {
		job.State = StateWaiting
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobKey(id),
				fieldState, string(StateWaiting),
				fieldAttemptsMade, job.AttemptsMade,
				fieldFailedReason, reason,
			)
			pipe.LRem(ctx, q.activeKey, 1, id)
			pipe.Del(ctx, q.leaseKey(id))
			pipe.LPush(ctx, q.pendingKey, id)
			return nil
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to re-queue job: %w", err)
		}
		q.retried.Add(1)
		q.metrics.RecordRetried()
		q.refreshDepth(ctx)
		return job, true, nil
	}

	if err := q.finalizeFailed(ctx, job); err != nil {
		return nil, false, err
	}
	return job, false, nil
}

// Discard fails a job terminally regardless of remaining attempts.
func (q *Queue) Discard(ctx context.Context, id, reason string) (*Job, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	job.AttemptsMade++
	job.FailedReason = reason
	if err := q.finalizeFailed(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) finalizeFailed(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.State = StateFailed
	job.FinishedOn = now

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID),
			fieldState, string(StateFailed),
			fieldAttemptsMade, job.AttemptsMade,
			fieldFailedReason, job.FailedReason,
			fieldFinishedOn, now.UnixMilli(),
		)
		pipe.LRem(ctx, q.activeKey, 1, job.ID)
		pipe.Del(ctx, q.leaseKey(job.ID))
		if job.DedupKey != "" {
			pipe.SRem(ctx, q.dedupKey, job.DedupKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	q.failed.Add(1)
	q.metrics.RecordFailed()
	q.refreshDepth(ctx)
	if q.onFailed != nil {
		q.onFailed(job)
	}
	return nil
}

// rescueStalled re-queues active jobs whose lease lapsed. A job that
// stalls more than maxStalls times is failed terminally instead.
func (q *Queue) rescueStalled(ctx context.Context, maxStalls int) (int, error) {
	ids, err := q.client.LRange(ctx, q.activeKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan active jobs: %w", err)
	}

	rescued := 0
	for _, id := range ids {
		held, err := q.client.Exists(ctx, q.leaseKey(id)).Result()
		if err != nil || held > 0 {
			continue
		}

		// Claim the id before touching the hash; losing the LRem race
		// means another actor already moved the job.
		removed, err := q.client.LRem(ctx, q.activeKey, 1, id).Result()
		if err != nil || removed == 0 {
			continue
		}

		stalls, err := q.client.HIncrBy(ctx, q.jobKey(id), fieldStallCount, 1).Result()
		if err != nil {
			continue
		}
		q.stalled.Add(1)
		q.metrics.RecordStalled()

		if int(stalls) > maxStalls {
			job, err := q.Job(ctx, id)
			if err != nil {
				continue
			}
			job.FailedReason = "job stalled more than allowed limit"
			_ = q.finalizeFailed(ctx, job)
			continue
		}

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobKey(id), fieldState, string(StateWaiting))
			pipe.LPush(ctx, q.pendingKey, id)
			return nil
		})
		if err == nil {
			rescued++
		}
	}
	if rescued > 0 {
		q.refreshDepth(ctx)
	}
	return rescued, nil
}

// Depth returns the pending and active list lengths.
func (q *Queue) Depth(ctx context.Context) (pending, active int64, err error) {
	pending, err = q.client.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pending depth: %w", err)
	}
	active, err = q.client.LLen(ctx, q.activeKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read active depth: %w", err)
	}
	return pending, active, nil
}

// Stats is a snapshot of local queue counters.
type Stats struct {
	Enqueued  int64
	Completed int64
	Failed    int64
	Retried   int64
	Stalled   int64
}

// Stats returns counters accumulated by this process.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
		Stalled:   q.stalled.Load(),
	}
}

func (q *Queue) refreshDepth(ctx context.Context) {
	pending, active, err := q.Depth(ctx)
	if err != nil {
		return
	}
	q.metrics.SetDepth(pending, active)
}

func (q *Queue) jobKey(id string) string {
	return q.config.Prefix + ":job:" + id
}

func (q *Queue) leaseKey(id string) string {
	return q.config.Prefix + ":lease:" + id
}
