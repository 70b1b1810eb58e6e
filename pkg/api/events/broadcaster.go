// Package events fans transaction lifecycle events out to in-process
// subscribers such as the websocket stream.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tranor/tranor/pkg/eventbus"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast broadcasts a generic event to all subscribers.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop on overflow to keep broadcasters non-blocking.
		}
	}
}

// BroadcastEnvelope emits a lifecycle envelope as a subscriber event.
// The event type is "<domain>.<event_type>", e.g. "transaction.completed".
func (b *Broadcaster) BroadcastEnvelope(domain eventbus.Domain, env eventbus.Envelope) {
	payload := map[string]any{
		"event_id":     env.EventID,
		"job_id":       env.JobID,
		"sequence":     env.Sequence,
		"ordering_key": env.OrderingKey,
		"data":         json.RawMessage(env.Payload),
	}
	if env.Step != "" {
		payload["step"] = env.Step
	}

	b.Broadcast(Event{
		Type:      string(domain) + "." + env.EventType,
		JobID:     env.JobID,
		Timestamp: env.Timestamp,
		Payload:   payload,
	})
}

// Pump subscribes to every lifecycle subject on the bus and rebroadcasts
// envelopes to local subscribers until ctx is canceled or the
// subscription closes. Envelopes are schema-checked and deduplicated by
// event id before fan-out; publish retries can deliver the same event
// twice. Malformed bus payloads are skipped.
func (b *Broadcaster) Pump(ctx context.Context, bus *eventbus.MemoryBus, buffer int) error {
	sub, err := bus.Subscribe(eventbus.AllSubjects(), buffer)
	if err != nil {
		return err
	}
	defer sub.Close()

	router := eventbus.NewSchemaRouter()
	if err := eventbus.RegisterTransactionSchemas(router); err != nil {
		return err
	}
	consumer := eventbus.NewEnvelopeConsumer(router)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			env, _, dup, err := consumer.DecodeAndValidate(msg.Payload)
			if err != nil || dup {
				continue
			}
			b.BroadcastEnvelope(domainFromSubject(msg.Subject), env)
		}
	}
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// domainFromSubject extracts the domain segment from a lifecycle
// subject ("tranor.v1.lifecycle.<domain>.<shard>.<event>").
func domainFromSubject(subject string) eventbus.Domain {
	parts := strings.Split(subject, ".")
	if len(parts) < 4 {
		return ""
	}
	return eventbus.Domain(parts[3])
}
