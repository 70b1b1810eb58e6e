// Package queue implements a durable Redis-backed FIFO job queue with
// at-least-once delivery. Jobs are stored as hashes, handed to consumers
// under a visibility lease, and re-queued by a janitor when a consumer
// dies mid-job.
package queue

import (
	"strconv"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of durable work.
type Job struct {
	ID           string
	Payload      []byte
	State        State
	Progress     int
	AttemptsMade int
	AttemptsMax  int
	StallCount   int
	DedupKey     string
	CreatedAt    time.Time
	ProcessedOn  time.Time
	FinishedOn   time.Time
	FailedReason string
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// Delivery is one leased hand-out of a job to a consumer. Attempt is
// 1-based: the first delivery of a job carries Attempt == 1.
type Delivery struct {
	JobID       string
	Payload     []byte
	Attempt     int
	MaxAttempts int
}

// FinalAttempt reports whether no further deliveries follow a failure.
func (d *Delivery) FinalAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

const (
	fieldPayload      = "payload"
	fieldState        = "state"
	fieldProgress     = "progress"
	fieldAttemptsMade = "attempts_made"
	fieldAttemptsMax  = "attempts_max"
	fieldStallCount   = "stall_count"
	fieldDedupKey     = "dedup_key"
	fieldCreatedAt    = "created_at"
	fieldProcessedOn  = "processed_on"
	fieldFinishedOn   = "finished_on"
	fieldFailedReason = "failed_reason"
)

func (j *Job) toFields() map[string]any {
	fields := map[string]any{
		fieldPayload:      string(j.Payload),
		fieldState:        string(j.State),
		fieldProgress:     j.Progress,
		fieldAttemptsMade: j.AttemptsMade,
		fieldAttemptsMax:  j.AttemptsMax,
		fieldStallCount:   j.StallCount,
		fieldCreatedAt:    j.CreatedAt.UnixMilli(),
	}
	if j.DedupKey != "" {
		fields[fieldDedupKey] = j.DedupKey
	}
	return fields
}

func jobFromFields(id string, fields map[string]string) *Job {
	j := &Job{
		ID:           id,
		Payload:      []byte(fields[fieldPayload]),
		State:        State(fields[fieldState]),
		Progress:     parseIntField(fields[fieldProgress]),
		AttemptsMade: parseIntField(fields[fieldAttemptsMade]),
		AttemptsMax:  parseIntField(fields[fieldAttemptsMax]),
		StallCount:   parseIntField(fields[fieldStallCount]),
		DedupKey:     fields[fieldDedupKey],
		FailedReason: fields[fieldFailedReason],
		CreatedAt:    parseTimeField(fields[fieldCreatedAt]),
		ProcessedOn:  parseTimeField(fields[fieldProcessedOn]),
		FinishedOn:   parseTimeField(fields[fieldFinishedOn]),
	}
	return j
}

func parseIntField(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseTimeField(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
