package quarantine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), srv
}

func inSet(t *testing.T, srv *miniredis.Miniredis, key, member string) bool {
	t.Helper()
	ok, err := srv.IsMember(key, member)
	if err != nil {
		return false
	}
	return ok
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		reason         string
		classification string
		canRetry       bool
		priority       string
	}{
		{
			name:           "step not registered",
			reason:         "Step function not found: charge_points",
			classification: ClassRetryable,
			canRetry:       true,
			priority:       PriorityHigh,
		},
		{
			name:           "connection refused",
			reason:         "dial tcp 127.0.0.1:6379: CONNECTION REFUSED",
			classification: ClassRetryable,
			canRetry:       true,
			priority:       PriorityHigh,
		},
		{
			name:           "resource busy",
			reason:         "other transaction in progress on tx_lock:user_42",
			classification: ClassRetryable,
			canRetry:       true,
			priority:       PriorityHigh,
		},
		{
			name:           "node style timeout",
			reason:         "ETIMEDOUT while calling provider",
			classification: ClassRetryable,
			canRetry:       true,
			priority:       PriorityHigh,
		},
		{
			name:           "insufficient funds",
			reason:         "Insufficient balance for user",
			classification: ClassTerminal,
			canRetry:       false,
			priority:       PriorityNormal,
		},
		{
			name:           "terminal wins over retryable",
			reason:         "invalid parameter: connection refused by validator",
			classification: ClassTerminal,
			canRetry:       false,
			priority:       PriorityNormal,
		},
		{
			name:           "unknown reasons stay terminal",
			reason:         "business rule 47 rejected the order",
			classification: ClassTerminal,
			canRetry:       false,
			priority:       PriorityNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classification, canRetry, priority := Classify(tt.reason)
			if classification != tt.classification || canRetry != tt.canRetry || priority != tt.priority {
				t.Fatalf("Classify(%q) = (%s, %v, %s), want (%s, %v, %s)",
					tt.reason, classification, canRetry, priority,
					tt.classification, tt.canRetry, tt.priority)
			}
		})
	}
}

func TestAddClassifiesAndIndexes(t *testing.T) {
	s, srv := newTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Record{
		OriginalJobID:   "job-1",
		UserID:          42,
		FailedStep:      "charge",
		FailureReason:   "Step function not found: charge",
		CompletedSteps:  []string{"validate"},
		OriginalJobData: json.RawMessage(`{"userId":42}`),
		Attempt:         1,
	})
	if err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	if id != "job-1:1" {
		t.Fatalf("unexpected dlq id: %s", id)
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if rec.Classification != ClassRetryable || !rec.CanRetry || rec.Priority != PriorityHigh {
		t.Fatalf("expected retryable/high record, got %#v", rec)
	}
	if rec.FailedAt.IsZero() {
		t.Fatal("expected failedAt to be stamped")
	}
	if len(rec.CompletedSteps) != 1 || rec.CompletedSteps[0] != "validate" {
		t.Fatalf("unexpected completed steps: %#v", rec.CompletedSteps)
	}
	if string(rec.OriginalJobData) != `{"userId":42}` {
		t.Fatalf("unexpected original job data: %s", rec.OriginalJobData)
	}

	if !inSet(t, srv, activeIndexKey, id) {
		t.Fatal("record missing from active index")
	}
	if !inSet(t, srv, highIndexKey, id) {
		t.Fatal("retryable record missing from high-priority index")
	}
}

func TestAddTerminalSkipsHighPriority(t *testing.T) {
	s, srv := newTestStore(t)

	id, err := s.Add(context.Background(), Record{
		OriginalJobID: "job-2",
		FailedStep:    "deduct",
		FailureReason: "insufficient balance",
		Attempt:       1,
	})
	if err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	if inSet(t, srv, highIndexKey, id) {
		t.Fatal("terminal record must not be high priority")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := Record{
		OriginalJobID: "job-1",
		FailedStep:    "charge",
		FailureReason: "timeout",
		Attempt:       2,
	}
	first, err := s.Add(ctx, rec)
	if err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}

	rec.FailureReason = "a different reason on re-add"
	second, err := s.Add(ctx, rec)
	if err != nil {
		t.Fatalf("second Add() unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected same dlq id, got %s and %s", first, second)
	}

	stored, _ := s.Get(ctx, first)
	if stored.FailureReason != "timeout" {
		t.Fatalf("re-add must not overwrite the record: %q", stored.FailureReason)
	}

	active, err := s.GetAllActive(ctx)
	if err != nil {
		t.Fatalf("GetAllActive() unexpected error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected a single active record, got %d", len(active))
	}
}

func TestGetActiveSortsByFailureTime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, jobID := range []string{"job-b", "job-a", "job-c"} {
		_, err := s.Add(ctx, Record{
			OriginalJobID: jobID,
			FailureReason: "timeout",
			Attempt:       1,
			FailedAt:      base.Add(time.Duration(2-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Add() unexpected error: %v", err)
		}
	}

	active, err := s.GetAllActive(ctx)
	if err != nil {
		t.Fatalf("GetAllActive() unexpected error: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 records, got %d", len(active))
	}
	for i := 1; i < len(active); i++ {
		if active[i].FailedAt.Before(active[i-1].FailedAt) {
			t.Fatalf("records not sorted oldest first: %v then %v",
				active[i-1].FailedAt, active[i].FailedAt)
		}
	}
}

func TestGetHighPriorityFiltersTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, Record{OriginalJobID: "job-1", FailureReason: "timeout", Attempt: 1}); err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	if _, err := s.Add(ctx, Record{OriginalJobID: "job-2", FailureReason: "insufficient balance", Attempt: 1}); err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}

	high, err := s.GetHighPriority(ctx)
	if err != nil {
		t.Fatalf("GetHighPriority() unexpected error: %v", err)
	}
	if len(high) != 1 || high[0].OriginalJobID != "job-1" {
		t.Fatalf("unexpected high priority set: %#v", high)
	}
}

func TestMarkHandled(t *testing.T) {
	s, srv := newTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Record{OriginalJobID: "job-1", FailureReason: "timeout", Attempt: 1})
	if err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}

	if err := s.MarkHandled(ctx, id, "requeued manually"); err != nil {
		t.Fatalf("MarkHandled() unexpected error: %v", err)
	}

	if inSet(t, srv, activeIndexKey, id) || inSet(t, srv, highIndexKey, id) {
		t.Fatal("handled record still in active indices")
	}
	if !inSet(t, srv, processedKey, id) {
		t.Fatal("handled record missing from processed set")
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if rec.ProcessedAt.IsZero() || rec.ProcessorNote != "requeued manually" {
		t.Fatalf("handling metadata not stamped: %#v", rec)
	}

	if err := s.MarkHandled(ctx, "missing:1", "x"); !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() unexpected error: %v", err)
	}
	if stats.TotalActive != 0 || stats.OldestFailure != nil {
		t.Fatalf("unexpected empty stats: %#v", stats)
	}

	oldest := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.Add(ctx, Record{OriginalJobID: "job-1", FailureReason: "timeout", Attempt: 1, FailedAt: oldest}); err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	if _, err := s.Add(ctx, Record{OriginalJobID: "job-2", FailureReason: "insufficient", Attempt: 1}); err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	handled, err := s.Add(ctx, Record{OriginalJobID: "job-3", FailureReason: "timeout", Attempt: 1})
	if err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	if err := s.MarkHandled(ctx, handled, "done"); err != nil {
		t.Fatalf("MarkHandled() unexpected error: %v", err)
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() unexpected error: %v", err)
	}
	if stats.TotalActive != 2 {
		t.Fatalf("unexpected active count: %d", stats.TotalActive)
	}
	if stats.HighPriority != 1 {
		t.Fatalf("unexpected high priority count: %d", stats.HighPriority)
	}
	if stats.TotalProcessed != 1 {
		t.Fatalf("unexpected processed count: %d", stats.TotalProcessed)
	}
	if stats.OldestFailure == nil || !stats.OldestFailure.Equal(oldest) {
		t.Fatalf("unexpected oldest failure: %v", stats.OldestFailure)
	}
}
