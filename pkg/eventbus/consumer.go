package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

// defaultDedupWindow bounds how many event ids a consumer remembers.
const defaultDedupWindow = 4096

// EnvelopeConsumer validates and routes envelopes and suppresses
// duplicate deliveries by event id. The dedup window is bounded; once
// full, the oldest ids are forgotten first.
type EnvelopeConsumer struct {
	router *SchemaRouter
	window int

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
}

// NewEnvelopeConsumer creates a schema-aware consumer. A nil router
// skips schema validation and version decoding.
func NewEnvelopeConsumer(router *SchemaRouter) *EnvelopeConsumer {
	return &EnvelopeConsumer{
		router: router,
		window: defaultDedupWindow,
		seen:   make(map[string]struct{}),
	}
}

// DecodeAndValidate decodes raw event bytes, validates schema routing,
// and suppresses duplicates. The third return reports whether the
// envelope was already seen.
func (c *EnvelopeConsumer) DecodeAndValidate(raw []byte) (Envelope, any, bool, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, nil, false, fmt.Errorf("eventbus: invalid envelope json: %w", err)
	}

	if c.router != nil {
		if err := c.router.ValidateIncoming(envelope); err != nil {
			return Envelope{}, nil, false, err
		}
	}

	if c.remember(envelope.EventID) {
		return envelope, nil, true, nil
	}

	var decoded any = envelope
	var err error
	if c.router != nil {
		decoded, err = c.router.Decode(envelope)
		if err != nil {
			return Envelope{}, nil, false, err
		}
	}
	return envelope, decoded, false, nil
}

// remember records an event id and reports whether it was a duplicate.
func (c *EnvelopeConsumer) remember(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[eventID]; dup {
		return true
	}

	if len(c.order) < c.window {
		c.order = append(c.order, eventID)
	} else {
		delete(c.seen, c.order[c.next])
		c.order[c.next] = eventID
		c.next = (c.next + 1) % c.window
	}
	c.seen[eventID] = struct{}{}
	return false
}
