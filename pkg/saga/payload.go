package saga

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// StepStatus is the persisted lifecycle state of one step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// StepState is the persisted record of one step inside a job payload.
// Result is written exactly once, on the transition to completed.
type StepState struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Index  int        `json:"index"`
	Result any        `json:"result"`
}

// Resource identifies one logical resource a transaction touches. The
// worker derives a lock key from it, so two jobs naming the same resource
// serialize against each other.
type Resource struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action,omitempty"`
}

// lockKeyPrefix is the key namespace for resource locks.
const lockKeyPrefix = "tx_lock:"

// LockKey derives the lock key for this resource:
// tx_lock:<type>_<id> or tx_lock:<type>_<id>_<action>.
func (r Resource) LockKey() string {
	if r.Action != "" {
		return lockKeyPrefix + r.Type + "_" + r.ID + "_" + r.Action
	}
	return lockKeyPrefix + r.Type + "_" + r.ID
}

// UnmarshalJSON accepts both string and numeric ids, so payloads written
// by clients that send {"id": 42} and {"id": "42"} are equivalent.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   string          `json:"type"`
		ID     json.RawMessage `json:"id"`
		Action string          `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Type = raw.Type
	r.Action = raw.Action

	if len(raw.ID) == 0 {
		r.ID = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		r.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return fmt.Errorf("resource id must be a string or number: %w", err)
	}
	r.ID = n.String()
	return nil
}

// LockKeys derives the lock keys for a resource set, preserving input
// order. Acquisition order matters: it is the order conflicts are
// detected and rolled back in.
func LockKeys(resources []Resource) []string {
	keys := make([]string, 0, len(resources))
	for _, r := range resources {
		keys = append(keys, r.LockKey())
	}
	return keys
}

// DefaultResources is the resource set used when a caller declares none:
// the job serializes on its user.
func DefaultResources(userID int64) []Resource {
	return []Resource{{Type: "user", ID: strconv.FormatInt(userID, 10)}}
}

// Payload is the persisted state of one saga job. It is the unit the
// queue stores and the worker mutates; everything needed to resume after
// a crash lives here.
type Payload struct {
	UserID              int64          `json:"userId"`
	Steps               []StepState    `json:"steps"`
	CurrentStepIndex    int            `json:"currentStepIndex"`
	CreatedAt           time.Time      `json:"createdAt"`
	IdempotencyKey      string         `json:"idempotencyKey,omitempty"`
	ResourceIdentifiers []Resource     `json:"resourceIdentifiers"`
	BusinessContext     map[string]any `json:"businessContext,omitempty"`
}

// NewPayload creates the initial payload for a job: all steps pending,
// cursor at zero.
func NewPayload(userID int64, stepNames []string, resources []Resource) *Payload {
	steps := make([]StepState, 0, len(stepNames))
	for i, name := range stepNames {
		steps = append(steps, StepState{
			Name:   name,
			Status: StepStatusPending,
			Index:  i,
			Result: nil,
		})
	}
	if len(resources) == 0 {
		resources = DefaultResources(userID)
	}
	return &Payload{
		UserID:              userID,
		Steps:               steps,
		CurrentStepIndex:    0,
		CreatedAt:           time.Now().UTC(),
		ResourceIdentifiers: resources,
	}
}

// Resources returns the declared resource set, falling back to the
// per-user default for payloads persisted without one.
func (p *Payload) Resources() []Resource {
	if len(p.ResourceIdentifiers) > 0 {
		return p.ResourceIdentifiers
	}
	return DefaultResources(p.UserID)
}

// CompletedStepNames returns the names of all completed steps in order.
func (p *Payload) CompletedStepNames() []string {
	names := make([]string, 0, len(p.Steps))
	for _, st := range p.Steps {
		if st.Status == StepStatusCompleted {
			names = append(names, st.Name)
		}
	}
	return names
}

// StepNames returns every step name in order.
func (p *Payload) StepNames() []string {
	names := make([]string, 0, len(p.Steps))
	for _, st := range p.Steps {
		names = append(names, st.Name)
	}
	return names
}

// Encode serializes the payload for the queue.
func (p *Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses a queued payload. Numeric step results survive the
// round-trip as json.Number values to avoid float truncation of large ids.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	return &p, nil
}

// Validate checks structural consistency before enqueueing.
func (p *Payload) Validate() error {
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}
	if len(p.ResourceIdentifiers) == 0 {
		return ErrNoResources
	}
	for i, st := range p.Steps {
		if st.Name == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepNameEmpty)
		}
		if st.Index != i {
			return fmt.Errorf("step %q: index %d does not match position %d", st.Name, st.Index, i)
		}
	}
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex > len(p.Steps) {
		return fmt.Errorf("current step index %d out of range [0,%d]", p.CurrentStepIndex, len(p.Steps))
	}
	return nil
}
