package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// requireRedis returns a client for the server named by
// TRANOR_TEST_REDIS_ADDR. Tests that call it are skipped when the
// variable is unset or the server is unreachable.
func requireRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TRANOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRANOR_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// uniquePrefix keeps concurrent test runs out of each other's keyspace.
func uniquePrefix(name string) string {
	return fmt.Sprintf("tranorq-it-%s-%d", name, time.Now().UnixNano())
}

func startIntegrationConsumer(t *testing.T, q *Queue, handler Handler) *Consumer {
	t.Helper()

	consumer, err := NewConsumer(q, &ConsumerConfig{
		Name:              "integration",
		Concurrency:       4,
		VisibilityTimeout: 5 * time.Second,
		BlockTimeout:      200 * time.Millisecond,
		JanitorInterval:   time.Second,
		MaxStalls:         1,
	}, handler)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	if err := consumer.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = consumer.Close(closeCtx)
	})
	return consumer
}

func TestQueueIntegration_EnqueueAndConsume(t *testing.T) {
	client := requireRedis(t)

	q, err := New(client, &Config{Prefix: uniquePrefix("io")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var handled atomic.Int64
	startIntegrationConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		handled.Add(1)
		return nil
	})

	ctx := context.Background()
	const total = 20
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		job, err := q.Enqueue(ctx, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, job.ID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && q.Stats().Completed < total {
		time.Sleep(25 * time.Millisecond)
	}
	if got := q.Stats().Completed; got < total {
		t.Fatalf("completed = %d, want >= %d", got, total)
	}
	if got := handled.Load(); got != total {
		t.Fatalf("handler invocations = %d, want %d", got, total)
	}

	for _, id := range ids {
		job, err := q.Job(ctx, id)
		if err != nil {
			t.Fatalf("Job(%s) error = %v", id, err)
		}
		if job.State != StateCompleted {
			t.Fatalf("job %s state = %s, want %s", id, job.State, StateCompleted)
		}
	}
}

func TestQueueIntegration_FailedAttemptIsRedelivered(t *testing.T) {
	client := requireRedis(t)

	q, err := New(client, &Config{Prefix: uniquePrefix("retry")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var calls atomic.Int64
	var lastAttempt atomic.Int64
	startIntegrationConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		lastAttempt.Store(int64(d.Attempt))
		if calls.Add(1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, []byte(`{"n":1}`), WithAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && q.Stats().Completed < 1 {
		time.Sleep(25 * time.Millisecond)
	}

	if got := q.Stats().Completed; got != 1 {
		t.Fatalf("completed = %d, want 1", got)
	}
	if got := q.Stats().Retried; got != 1 {
		t.Fatalf("retried = %d, want 1", got)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("handler invocations = %d, want 2", got)
	}
	if got := lastAttempt.Load(); got != 2 {
		t.Fatalf("final delivery attempt = %d, want 2", got)
	}

	final, err := q.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if final.State != StateCompleted {
		t.Fatalf("state = %s, want %s", final.State, StateCompleted)
	}
}
