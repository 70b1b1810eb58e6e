package config

import (
	"github.com/tranor/tranor/pkg/queue"
)

// ToQueueConfig converts the transaction section to a queue.Config.
func (t *TransactionConfig) ToQueueConfig() *queue.Config {
	return &queue.Config{
		Prefix:   t.QueuePrefix,
		DedupTTL: t.DedupTTL,
	}
}

// ToConsumerConfig converts the consumer section to a
// queue.ConsumerConfig for the named consumer.
func (t *TransactionConfig) ToConsumerConfig(name string) *queue.ConsumerConfig {
	return &queue.ConsumerConfig{
		Name:              name,
		Concurrency:       t.Consumer.Concurrency,
		VisibilityTimeout: t.Consumer.VisibilityTimeout,
		BlockTimeout:      t.Consumer.BlockTimeout,
		JanitorInterval:   t.Consumer.JanitorInterval,
		MaxStalls:         t.Consumer.MaxStalls,
	}
}
