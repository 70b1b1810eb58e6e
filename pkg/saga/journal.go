package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	journalKeyPrefix      = "journal:"
	journalSequencePrefix = "journal-seq:"
)

// JournalEntryType identifies one transaction state-change event.
type JournalEntryType string

const (
	JournalLockAcquired          JournalEntryType = "lock_acquired"
	JournalStepStarted           JournalEntryType = "step_started"
	JournalStepCompleted         JournalEntryType = "step_completed"
	JournalStepFailed            JournalEntryType = "step_failed"
	JournalCompensationStarted   JournalEntryType = "compensation_started"
	JournalCompensationCompleted JournalEntryType = "compensation_completed"
	JournalCompensationFailed    JournalEntryType = "compensation_failed"
	JournalQuarantined           JournalEntryType = "quarantined"
	JournalLockReleased          JournalEntryType = "lock_released"
)

// JournalEntry is one durable record of a transaction event. Entries are
// append-only; the sequence is per job.
type JournalEntry struct {
	Sequence  uint64           `json:"sequence"`
	JobID     string           `json:"jobId"`
	Step      string           `json:"step,omitempty"`
	Type      JournalEntryType `json:"type"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Journal records the execution history of jobs for post-mortem
// inspection. Implementations must be safe for concurrent use.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) (uint64, error)
	List(ctx context.Context, jobID string) ([]JournalEntry, error)
	DeleteByJob(ctx context.Context, jobID string) error
	Close() error
}

// NopJournal discards every entry. It keeps the worker hot path allocation
// free when journaling is disabled.
type NopJournal struct{}

func (NopJournal) Append(context.Context, JournalEntry) (uint64, error) { return 0, nil }
func (NopJournal) List(context.Context, string) ([]JournalEntry, error) { return nil, nil }
func (NopJournal) DeleteByJob(context.Context, string) error            { return nil }
func (NopJournal) Close() error                                         { return nil }

// JournalWriteMode controls whether appends flush before returning.
type JournalWriteMode string

const (
	JournalWriteSync  JournalWriteMode = "sync"
	JournalWriteAsync JournalWriteMode = "async"
)

// JournalOptions configures a Badger-backed journal.
type JournalOptions struct {
	WriteMode      JournalWriteMode
	AsyncQueueSize int
}

type journalAppend struct {
	ctx   context.Context
	entry JournalEntry
}

// BadgerJournal implements Journal on top of Badger.
type BadgerJournal struct {
	db        *badger.DB
	ownsDB    bool
	writeMode JournalWriteMode

	appendCh chan journalAppend
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// OpenBadgerJournal opens a dedicated Badger DB at path for journal use.
func OpenBadgerJournal(path string, options JournalOptions) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal: %w", err)
	}
	j, err := NewBadgerJournal(db, options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.ownsDB = true
	return j, nil
}

// NewBadgerJournal creates a journal over an existing Badger DB.
func NewBadgerJournal(db *badger.DB, options JournalOptions) (*BadgerJournal, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	if options.WriteMode == "" {
		options.WriteMode = JournalWriteSync
	}
	if options.AsyncQueueSize <= 0 {
		options.AsyncQueueSize = 1024
	}
	if options.WriteMode != JournalWriteSync && options.WriteMode != JournalWriteAsync {
		return nil, fmt.Errorf("unsupported journal write mode: %s", options.WriteMode)
	}

	j := &BadgerJournal{
		db:        db,
		writeMode: options.WriteMode,
		stopCh:    make(chan struct{}),
	}

	if options.WriteMode == JournalWriteAsync {
		j.appendCh = make(chan journalAppend, options.AsyncQueueSize)
		j.wg.Add(1)
		go j.runAsyncWriter()
	}

	return j, nil
}

// Append records one entry and returns its per-job sequence number.
func (j *BadgerJournal) Append(ctx context.Context, entry JournalEntry) (uint64, error) {
	if entry.JobID == "" {
		return 0, fmt.Errorf("journal entry job id cannot be empty")
	}
	if entry.Type == "" {
		return 0, fmt.Errorf("journal entry type cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	sequence, err := j.nextSequence(entry.JobID)
	if err != nil {
		return 0, err
	}
	entry.Sequence = sequence

	if j.writeMode == JournalWriteAsync {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-j.stopCh:
			return 0, fmt.Errorf("journal is closed")
		case j.appendCh <- journalAppend{ctx: ctx, entry: entry}:
			return sequence, nil
		default:
			// Queue full: degrade to a synchronous write.
			if err := j.writeEntry(ctx, entry); err != nil {
				return 0, err
			}
			return sequence, nil
		}
	}

	if err := j.writeEntry(ctx, entry); err != nil {
		return 0, err
	}
	return sequence, nil
}

// List returns all entries for a job in sequence order.
func (j *BadgerJournal) List(ctx context.Context, jobID string) ([]JournalEntry, error) {
	prefix := []byte(journalPrefixForJob(jobID))
	entries := make([]JournalEntry, 0)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var entry JournalEntry
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &entry)
			}); err != nil {
				return fmt.Errorf("decode journal entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// DeleteByJob removes all entries and the sequence counter for a job.
func (j *BadgerJournal) DeleteByJob(ctx context.Context, jobID string) error {
	prefix := []byte(journalPrefixForJob(jobID))
	seqKey := []byte(journalSequencePrefix + jobID)
	keys := make([][]byte, 0)

	if err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	}); err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		_ = txn.Delete(seqKey)
		return nil
	})
}

// Close stops the async writer and closes the DB if this journal opened it.
func (j *BadgerJournal) Close() error {
	close(j.stopCh)
	if j.appendCh != nil {
		close(j.appendCh)
	}
	j.wg.Wait()
	if j.ownsDB {
		return j.db.Close()
	}
	return nil
}

func (j *BadgerJournal) runAsyncWriter() {
	defer j.wg.Done()
	for req := range j.appendCh {
		// Entries are advisory history; a failed async write is dropped.
		_ = j.writeEntry(req.ctx, req.entry)
	}
}

func (j *BadgerJournal) writeEntry(ctx context.Context, entry JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	key := []byte(journalEntryKey(entry.JobID, entry.Sequence))

	return j.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return txn.Set(key, data)
	})
}

func (j *BadgerJournal) nextSequence(jobID string) (uint64, error) {
	key := []byte(journalSequencePrefix + jobID)
	var next uint64
	err := j.db.Update(func(txn *badger.Txn) error {
		current := uint64(0)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				parsed, parseErr := strconv.ParseUint(string(v), 10, 64)
				if parseErr != nil {
					return parseErr
				}
				current = parsed
				return nil
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			current = 0
		default:
			return err
		}

		next = current + 1
		return txn.Set(key, []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("next journal sequence: %w", err)
	}
	return next, nil
}

func journalPrefixForJob(jobID string) string {
	return journalKeyPrefix + jobID + ":"
}

func journalEntryKey(jobID string, sequence uint64) string {
	return fmt.Sprintf("%s%s:%020d", journalKeyPrefix, jobID, sequence)
}
