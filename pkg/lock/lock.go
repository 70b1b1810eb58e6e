// Package lock provides TTL-bounded resource locks on Redis with
// owner-verified release.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/pkg/logger"
)

const (
	// DefaultTTLSeconds bounds orphaned-lock lifetime after a worker crash.
	DefaultTTLSeconds = 30

	// EnvLockTTLSeconds overrides the default lock TTL.
	EnvLockTTLSeconds = "TRANSACTION_LOCK_TTL_SECONDS"
)

// ErrNoKeys is returned when an acquire or release call carries no keys.
var ErrNoKeys = errors.New("lock: no keys provided")

// releaseScript deletes each key only when its value still equals the owner,
// so a caller can never erase a lock it does not hold. Returns the number of
// keys deleted.
var releaseScript = redis.NewScript(`
local count = 0
for i = 1, #KEYS do
	if redis.call("GET", KEYS[i]) == ARGV[1] then
		count = count + redis.call("DEL", KEYS[i])
	end
end
return count
`)

// Manager acquires and releases named resource locks.
type Manager struct {
	rdb redis.Cmdable
	ttl time.Duration
	log logger.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTTL overrides the lock TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a lock manager. TTL resolution order: WithTTL option,
// then TRANSACTION_LOCK_TTL_SECONDS, then 30 seconds.
func NewManager(rdb redis.Cmdable, opts ...Option) *Manager {
	m := &Manager{
		rdb: rdb,
		ttl: DefaultTTL(),
		log: logger.Global(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// DefaultTTL resolves the lock TTL from the environment, falling back to
// DefaultTTLSeconds.
func DefaultTTL() time.Duration {
	if raw := os.Getenv(EnvLockTTLSeconds); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultTTLSeconds * time.Second
}

// TTL returns the configured lock TTL.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire sets each key to owner if absent, in input order. If any key is
// already held, every key acquired in this call is released (owner-verified)
// and Acquire returns false. An error mid-loop triggers the same rollback.
// Two callers racing for overlapping key sets may both observe false; the
// retry layer above provides progress, mutual exclusion is never violated.
func (m *Manager) Acquire(ctx context.Context, keys []string, owner string) (bool, error) {
	if len(keys) == 0 {
		return false, ErrNoKeys
	}

	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		ok, err := m.rdb.SetNX(ctx, key, owner, m.ttl).Result()
		if err != nil {
			m.rollback(ctx, acquired, owner)
			return false, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if !ok {
			m.log.DebugContext(ctx, "lock conflict",
				"key", key,
				"owner", owner,
			)
			m.rollback(ctx, acquired, owner)
			return false, nil
		}
		acquired = append(acquired, key)
	}
	return true, nil
}

// Release deletes each key whose value equals owner, atomically, and
// returns the number of keys deleted. A count below len(keys) means some
// locks expired or belong to another owner; that is logged, not an error.
func (m *Manager) Release(ctx context.Context, keys []string, owner string) (int64, error) {
	if len(keys) == 0 {
		return 0, ErrNoKeys
	}

	count, err := releaseScript.Run(ctx, m.rdb, keys, owner).Int64()
	if err != nil {
		return 0, fmt.Errorf("lock: release: %w", err)
	}
	if count < int64(len(keys)) {
		m.log.DebugContext(ctx, "lock release skipped foreign or expired keys",
			"owner", owner,
			"requested", len(keys),
			"deleted", count,
		)
	}
	return count, nil
}

// Owner returns the current holder of a lock key, or "" when the key is
// absent.
func (m *Manager) Owner(ctx context.Context, key string) (string, error) {
	val, err := m.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock: owner %s: %w", key, err)
	}
	return val, nil
}

// rollback releases partially acquired keys. Failures are logged and
// swallowed; the TTL reclaims anything left behind.
func (m *Manager) rollback(ctx context.Context, acquired []string, owner string) {
	if len(acquired) == 0 {
		return
	}
	if _, err := m.Release(ctx, acquired, owner); err != nil {
		m.log.WarnContext(ctx, "lock rollback failed",
			"owner", owner,
			"keys", acquired,
			"error", err,
		)
	}
}
