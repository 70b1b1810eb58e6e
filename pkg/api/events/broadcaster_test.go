package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tranor/tranor/pkg/eventbus"
)

func TestBroadcaster_SubscribeBroadcastUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Broadcast(Event{
		Type:  "transaction.completed",
		JobID: "job-1",
		Payload: map[string]any{
			"job_id": "job-1",
		},
	})

	select {
	case event := <-ch:
		if event.Type != "transaction.completed" {
			t.Fatalf("type = %q, want transaction.completed", event.Type)
		}
		if event.JobID != "job-1" {
			t.Fatalf("job_id = %q, want job-1", event.JobID)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
	}

	b.Unsubscribe(ch)
}

func TestBroadcaster_DropsOnFullBuffer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Broadcast(Event{Type: "transaction.started"})
	b.Broadcast(Event{Type: "transaction.completed"})

	// Only the first fits; the second is dropped silently.
	select {
	case event := <-ch:
		if event.Type != "transaction.started" {
			t.Fatalf("type = %q, want transaction.started", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first event")
	}

	select {
	case event := <-ch:
		t.Fatalf("unexpected second event %q", event.Type)
	default:
	}
}

func TestBroadcaster_BroadcastEnvelope(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	payload, _ := json.Marshal(eventbus.TransactionEvent{
		JobID:  "job-7",
		Status: "completed",
	})
	env := eventbus.Envelope{
		EventID:       "evt-1",
		EventType:     eventbus.EventTransactionCompleted,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: eventbus.SchemaVersionV1,
		NodeID:        "node-1",
		ShardKey:      "42",
		JobID:         "job-7",
		OrderingKey:   "job-7",
		Sequence:      3,
		Payload:       payload,
	}

	b.BroadcastEnvelope(eventbus.DomainTransaction, env)

	select {
	case event := <-ch:
		if event.Type != "transaction.completed" {
			t.Fatalf("type = %q, want transaction.completed", event.Type)
		}
		if event.JobID != "job-7" {
			t.Fatalf("job_id = %q, want job-7", event.JobID)
		}
		fields, ok := event.Payload.(map[string]any)
		if !ok {
			t.Fatalf("payload type = %T, want map", event.Payload)
		}
		if fields["event_id"] != "evt-1" {
			t.Fatalf("event_id = %v, want evt-1", fields["event_id"])
		}
		if _, hasStep := fields["step"]; hasStep {
			t.Fatal("transaction-domain event should not carry a step field")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope event")
	}
}

func TestBroadcaster_PumpBridgesBus(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	publisher, err := eventbus.NewPublisher("node-test", bus, eventbus.DefaultRetryConfig(), nil)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	b := NewBroadcaster()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- b.Pump(ctx, bus, 8)
	}()

	// Give the pump a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)

	_, err = publisher.PublishLifecycleEvent(ctx, eventbus.LifecycleEvent{
		Domain:    eventbus.DomainStep,
		EventType: eventbus.EventStepCompleted,
		ShardKey:  "7",
		JobID:     "job-9",
		Step:      "charge_fee",
		Payload:   eventbus.TransactionEvent{JobID: "job-9", Step: "charge_fee", Status: "completed"},
	})
	if err != nil {
		t.Fatalf("PublishLifecycleEvent() error = %v", err)
	}

	select {
	case event := <-ch:
		if event.Type != "step.completed" {
			t.Fatalf("type = %q, want step.completed", event.Type)
		}
		if event.JobID != "job-9" {
			t.Fatalf("job_id = %q, want job-9", event.JobID)
		}
		fields := event.Payload.(map[string]any)
		if fields["step"] != "charge_fee" {
			t.Fatalf("step = %v, want charge_fee", fields["step"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pumped event")
	}

	cancel()
	select {
	case err := <-pumpDone:
		if err != context.Canceled {
			t.Fatalf("Pump() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pump to stop")
	}
}

func TestBroadcaster_PumpSuppressesDuplicateDeliveries(t *testing.T) {
	bus := eventbus.NewMemoryBus()

	b := NewBroadcaster()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = b.Pump(ctx, bus, 8) }()
	time.Sleep(20 * time.Millisecond)

	payload, _ := json.Marshal(eventbus.TransactionEvent{JobID: "job-dup", Status: "completed"})
	env := eventbus.Envelope{
		EventID:       "evt-dup",
		EventType:     eventbus.EventTransactionCompleted,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: eventbus.SchemaVersionV1,
		NodeID:        "node-test",
		ShardKey:      "7",
		JobID:         "job-dup",
		OrderingKey:   "job-dup",
		Sequence:      1,
		Payload:       payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	subject := eventbus.TransactionSubject("7", eventbus.EventTransactionCompleted)
	// A publish retry that raced its own timeout delivers twice.
	if err := bus.Publish(ctx, subject, body); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := bus.Publish(ctx, subject, body); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case event := <-ch:
		if event.JobID != "job-dup" {
			t.Fatalf("job_id = %q, want job-dup", event.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first delivery")
	}

	select {
	case event := <-ch:
		t.Fatalf("duplicate envelope reached subscribers: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDomainFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    eventbus.Domain
	}{
		{"tranor.v1.lifecycle.transaction.42.completed", eventbus.DomainTransaction},
		{"tranor.v1.lifecycle.step.42.failed", eventbus.DomainStep},
		{"short.subject", ""},
	}

	for _, tt := range tests {
		if got := domainFromSubject(tt.subject); got != tt.want {
			t.Errorf("domainFromSubject(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}
