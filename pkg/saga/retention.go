package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tranor/tranor/pkg/logger"
)

// JournalRetention trims execution history for settled jobs. A job's
// entries are removed as a unit once the newest one ages past the
// retention window; partial histories are useless for post-mortems.
type JournalRetention struct {
	journal   *BadgerJournal
	isSettled func(ctx context.Context, jobID string) bool
	log       logger.Logger

	mu      sync.Mutex
	running bool
}

// NewJournalRetention creates a retention sweeper over the journal.
// isSettled reports whether a job has reached a terminal state; nil
// treats every job as settled, which only makes sense in tests.
func NewJournalRetention(journal *BadgerJournal, isSettled func(ctx context.Context, jobID string) bool, log logger.Logger) *JournalRetention {
	if log == nil {
		log = logger.Global()
	}
	return &JournalRetention{
		journal:   journal,
		isSettled: isSettled,
		log:       log,
	}
}

// Start runs periodic sweeps until the context is canceled.
func (r *JournalRetention) Start(ctx context.Context, interval, retention time.Duration) error {
	if r.journal == nil {
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("retention sweep interval must be > 0")
	}
	if retention <= 0 {
		return fmt.Errorf("retention must be > 0")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("retention sweeper already running")
	}
	r.running = true
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.mu.Lock()
				r.running = false
				r.mu.Unlock()
				return
			case <-ticker.C:
				removed, err := r.RunOnce(ctx, retention)
				if err != nil {
					r.log.Warn("journal retention sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					r.log.Info("journal retention sweep completed", "jobs_removed", removed)
				}
			}
		}
	}()

	return nil
}

// RunOnce performs one sweep and returns the number of jobs whose
// history was removed.
func (r *JournalRetention) RunOnce(ctx context.Context, retention time.Duration) (int, error) {
	if r.journal == nil {
		return 0, nil
	}
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be > 0")
	}

	cutoff := time.Now().UTC().Add(-retention)
	newest := make(map[string]time.Time)

	err := r.journal.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			jobID := jobIDFromJournalKey(string(item.Key()))
			if jobID == "" {
				continue
			}

			var entry JournalEntry
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &entry)
			}); err != nil {
				return err
			}
			if entry.Timestamp.After(newest[jobID]) {
				newest[jobID] = entry.Timestamp
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for jobID, last := range newest {
		if last.After(cutoff) {
			continue
		}
		if r.isSettled != nil && !r.isSettled(ctx, jobID) {
			continue
		}
		if err := r.journal.DeleteByJob(ctx, jobID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// jobIDFromJournalKey extracts the job id from "journal:<job>:<seq>".
func jobIDFromJournalKey(key string) string {
	rest, ok := strings.CutPrefix(key, journalKeyPrefix)
	if !ok {
		return ""
	}
	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 {
		return ""
	}
	return rest[:idx]
}
