package queue

import (
	"fmt"
	"time"
)

// Config holds configuration for a Queue.
type Config struct {
	// Prefix is the Redis key prefix for all queue keys.
	Prefix string

	// DedupTTL bounds how long enqueue dedup anchors are remembered.
	DedupTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Prefix:   "tranor:queue",
		DedupTTL: 1 * time.Hour,
	}
}

// Validate validates the queue configuration.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("queue prefix cannot be empty")
	}
	if c.DedupTTL < 0 {
		return fmt.Errorf("dedup TTL cannot be negative")
	}
	return nil
}

// ConsumerConfig holds configuration for a Consumer.
type ConsumerConfig struct {
	// Name identifies the consumer in lease ownership and logs.
	Name string

	// Concurrency is the number of worker goroutines.
	Concurrency int

	// VisibilityTimeout is how long a fetched job stays invisible to other
	// consumers. The consumer extends it while the handler runs; a job whose
	// lease lapses is considered stalled and rescued by the janitor.
	VisibilityTimeout time.Duration

	// BlockTimeout is the BLMOVE timeout for consuming jobs.
	BlockTimeout time.Duration

	// JanitorInterval is how often stalled jobs are scanned for.
	JanitorInterval time.Duration

	// MaxStalls is how many times a job may stall before it is failed
	// instead of re-queued.
	MaxStalls int
}

// DefaultConsumerConfig returns a ConsumerConfig with sensible defaults.
func DefaultConsumerConfig(name string) *ConsumerConfig {
	return &ConsumerConfig{
		Name:              name,
		Concurrency:       4,
		VisibilityTimeout: 30 * time.Second,
		BlockTimeout:      2 * time.Second,
		JanitorInterval:   15 * time.Second,
		MaxStalls:         1,
	}
}

// Validate validates the consumer configuration.
func (c *ConsumerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("consumer name cannot be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("visibility timeout must be positive")
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("block timeout must be positive")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("janitor interval must be positive")
	}
	if c.MaxStalls < 0 {
		return fmt.Errorf("max stalls cannot be negative")
	}
	return nil
}
