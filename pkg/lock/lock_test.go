package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, opts...), srv
}

func TestAcquireAndRelease(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()
	keys := []string{"tx_lock:user_42", "tx_lock:account_7"}

	ok, err := m.Acquire(ctx, keys, "job-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	for _, key := range keys {
		got, err := srv.Get(key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if got != "job-1" {
			t.Errorf("key %s = %q, want job-1", key, got)
		}
		if ttl := srv.TTL(key); ttl <= 0 {
			t.Errorf("key %s has no TTL", key)
		}
	}

	count, err := m.Release(ctx, keys, "job-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if count != 2 {
		t.Errorf("release count = %d, want 2", count)
	}
	for _, key := range keys {
		if srv.Exists(key) {
			t.Errorf("key %s still present after release", key)
		}
	}
}

func TestAcquireConflictRollsBack(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()

	// Second key is already held by another job.
	if err := srv.Set("tx_lock:account_7", "job-other"); err != nil {
		t.Fatal(err)
	}

	ok, err := m.Acquire(ctx, []string{"tx_lock:user_42", "tx_lock:account_7"}, "job-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatal("expected acquire to fail on held key")
	}

	// The first key must have been rolled back.
	if srv.Exists("tx_lock:user_42") {
		t.Error("partially acquired key was not rolled back")
	}
	// The foreign lock is untouched.
	got, _ := srv.Get("tx_lock:account_7")
	if got != "job-other" {
		t.Errorf("foreign lock = %q, want job-other", got)
	}
}

func TestReleaseIsOwnerVerified(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()
	keys := []string{"tx_lock:user_42"}

	if ok, _ := m.Acquire(ctx, keys, "job-y"); !ok {
		t.Fatal("setup acquire failed")
	}

	// A different owner deletes nothing.
	count, err := m.Release(ctx, keys, "job-x")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if count != 0 {
		t.Errorf("foreign release count = %d, want 0", count)
	}
	if !srv.Exists("tx_lock:user_42") {
		t.Fatal("lock was deleted by a non-owner")
	}

	// The rightful owner still can.
	count, err = m.Release(ctx, keys, "job-y")
	if err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if count != 1 {
		t.Errorf("owner release count = %d, want 1", count)
	}
}

func TestReleaseCountsExpiredKeys(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()
	keys := []string{"tx_lock:user_1", "tx_lock:user_2"}

	if ok, _ := m.Acquire(ctx, keys, "job-1"); !ok {
		t.Fatal("setup acquire failed")
	}
	srv.Del("tx_lock:user_1") // simulate TTL expiry

	count, err := m.Release(ctx, keys, "job-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if count != 1 {
		t.Errorf("release count = %d, want 1", count)
	}
}

func TestAcquireNoKeys(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Acquire(context.Background(), nil, "job-1"); !errors.Is(err, ErrNoKeys) {
		t.Errorf("acquire err = %v, want ErrNoKeys", err)
	}
	if _, err := m.Release(context.Background(), nil, "job-1"); !errors.Is(err, ErrNoKeys) {
		t.Errorf("release err = %v, want ErrNoKeys", err)
	}
}

func TestOwner(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	owner, err := m.Owner(ctx, "tx_lock:user_42")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "" {
		t.Errorf("owner of absent key = %q, want empty", owner)
	}

	if ok, _ := m.Acquire(ctx, []string{"tx_lock:user_42"}, "job-1"); !ok {
		t.Fatal("setup acquire failed")
	}
	owner, err = m.Owner(ctx, "tx_lock:user_42")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "job-1" {
		t.Errorf("owner = %q, want job-1", owner)
	}
}

func TestTTLResolution(t *testing.T) {
	t.Run("option wins", func(t *testing.T) {
		t.Setenv(EnvLockTTLSeconds, "90")
		m, _ := newTestManager(t, WithTTL(5*time.Second))
		if m.TTL() != 5*time.Second {
			t.Errorf("ttl = %v, want 5s", m.TTL())
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv(EnvLockTTLSeconds, "90")
		m, _ := newTestManager(t)
		if m.TTL() != 90*time.Second {
			t.Errorf("ttl = %v, want 90s", m.TTL())
		}
	})

	t.Run("invalid environment falls back", func(t *testing.T) {
		t.Setenv(EnvLockTTLSeconds, "not-a-number")
		m, _ := newTestManager(t)
		if m.TTL() != DefaultTTLSeconds*time.Second {
			t.Errorf("ttl = %v, want %ds", m.TTL(), DefaultTTLSeconds)
		}
	})

	t.Run("default", func(t *testing.T) {
		m, _ := newTestManager(t)
		if m.TTL() != DefaultTTLSeconds*time.Second {
			t.Errorf("ttl = %v, want %ds", m.TTL(), DefaultTTLSeconds)
		}
	})
}

// flakyClient fails SetNX after a given number of calls to exercise the
// mid-loop rollback path.
type flakyClient struct {
	*redis.Client
	failAfter int
	calls     int
}

func (f *flakyClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.calls++
	if f.calls > f.failAfter {
		cmd := redis.NewBoolCmd(ctx)
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	return f.Client.SetNX(ctx, key, value, expiration)
}

func TestAcquireErrorRollsBack(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := NewManager(&flakyClient{Client: client, failAfter: 1})

	ok, err := m.Acquire(context.Background(), []string{"tx_lock:a_1", "tx_lock:b_2"}, "job-1")
	if err == nil {
		t.Fatal("expected error from failing SetNX")
	}
	if ok {
		t.Fatal("acquire must report false on error")
	}
	if srv.Exists("tx_lock:a_1") {
		t.Error("first key was not rolled back after mid-loop error")
	}
}
