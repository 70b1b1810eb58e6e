package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tranor/tranor/pkg/logger"
)

// Handler processes one delivery. A nil return completes the job; an
// error returns it to the pending list while attempts remain, unless the
// error wraps ErrDiscard.
type Handler func(ctx context.Context, d *Delivery) error

// Consumer runs a pool of workers over a Queue.
type Consumer struct {
	queue   *Queue
	config  *ConsumerConfig
	handler Handler
	log     logger.Logger

	// State
	running   atomic.Bool
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	inflight atomic.Int32
}

// NewConsumer creates a Consumer over q.
func NewConsumer(q *Queue, config *ConsumerConfig, handler Handler) (*Consumer, error) {
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("consumer config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	return &Consumer{
		queue:   q,
		config:  config,
		handler: handler,
		log:     logger.Global().With("consumer", config.Name),
		closeCh: make(chan struct{}),
	}, nil
}

// SetLogger replaces the consumer logger.
func (c *Consumer) SetLogger(l logger.Logger) {
	if l != nil {
		c.log = l.With("consumer", c.config.Name)
	}
}

// Run starts the worker pool and the stall janitor.
func (c *Consumer) Run() error {
	if c.closed.Load() {
		return &ConsumerClosedError{Name: c.config.Name}
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	c.wg.Add(1)
	go c.janitor()

	c.log.Info("consumer started",
		"concurrency", c.config.Concurrency,
		"visibility_timeout", c.config.VisibilityTimeout)
	return nil
}

// Close stops fetching, waits for in-flight handlers, then returns. The
// context bounds the wait.
func (c *Consumer) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// IsClosed returns true once Close has been called.
func (c *Consumer) IsClosed() bool {
	return c.closed.Load()
}

// Inflight returns the number of handlers currently running.
func (c *Consumer) Inflight() int {
	return int(c.inflight.Load())
}

func (c *Consumer) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		ctx := context.Background()
		d, err := c.queue.Fetch(ctx, c.config.Name, c.config.BlockTimeout, c.config.VisibilityTimeout)
		if err != nil {
			c.log.Warn("fetch failed", "error", err)
			select {
			case <-c.closeCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if d == nil {
			continue
		}

		c.process(d)
	}
}

// process runs the handler under a heartbeated lease. Losing the lease
// cancels the handler context; the janitor owns the job from then on.
func (c *Consumer) process(d *Delivery) {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(c.config.VisibilityTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := c.queue.ExtendLease(ctx, d.JobID, c.config.Name, c.config.VisibilityTimeout)
				if err != nil || !held {
					c.log.Warn("lease lost, abandoning job",
						"job_id", d.JobID, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	start := time.Now()
	err := c.runHandler(ctx, d)
	cancel()
	<-heartbeatDone
	c.queue.metrics.RecordProcessDuration(time.Since(start))

	// Settle against a fresh context: the handler context may already be
	// canceled by a lost lease or shutdown.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer settleCancel()

	if err == nil {
		if _, cErr := c.queue.Complete(settleCtx, d.JobID); cErr != nil {
			c.log.Error("failed to complete job", "job_id", d.JobID, "error", cErr)
		}
		return
	}

	if errors.Is(err, ErrDiscard) {
		if _, dErr := c.queue.Discard(settleCtx, d.JobID, err.Error()); dErr != nil {
			c.log.Error("failed to discard job", "job_id", d.JobID, "error", dErr)
		}
		return
	}

	_, requeued, fErr := c.queue.Fail(settleCtx, d.JobID, err.Error())
	if fErr != nil {
		c.log.Error("failed to fail job", "job_id", d.JobID, "error", fErr)
		return
	}
	c.log.Warn("job attempt failed",
		"job_id", d.JobID,
		"attempt", d.Attempt,
		"requeued", requeued,
		"error", err)
}

func (c *Consumer) runHandler(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer) janitor() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.JanitorInterval)
			rescued, err := c.queue.rescueStalled(ctx, c.config.MaxStalls)
			cancel()
			if err != nil {
				c.log.Warn("stall scan failed", "error", err)
				continue
			}
			if rescued > 0 {
				c.log.Info("rescued stalled jobs", "count", rescued)
			}
		}
	}
}
