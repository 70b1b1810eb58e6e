package eventbus

import "fmt"

const (
	// SubjectPrefix is the canonical prefix for transaction lifecycle events.
	SubjectPrefix = "tranor.v1.lifecycle"
)

// Domain identifies transaction/step lifecycle event domains.
type Domain string

const (
	DomainTransaction Domain = "transaction"
	DomainStep        Domain = "step"
)

// Transaction-domain event types.
const (
	EventTransactionSubmitted    = "submitted"
	EventTransactionStarted      = "started"
	EventTransactionProgress     = "progress"
	EventTransactionCompleted    = "completed"
	EventTransactionCompensating = "compensating"
	EventTransactionFailed       = "failed"
	EventTransactionQuarantined  = "quarantined"
)

// Step-domain event types.
const (
	EventStepStarted     = "started"
	EventStepCompleted   = "completed"
	EventStepFailed      = "failed"
	EventStepCompensated = "compensated"
)

// TransactionSubject returns the canonical transaction lifecycle subject.
func TransactionSubject(shardKey, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainTransaction, sanitizeSegment(shardKey), sanitizeSegment(eventType))
}

// StepSubject returns the canonical step lifecycle subject.
func StepSubject(shardKey, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainStep, sanitizeSegment(shardKey), sanitizeSegment(eventType))
}

// DomainWildcardSubject returns the canonical wildcard subject for a domain.
func DomainWildcardSubject(domain Domain) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, sanitizeSegment(string(domain)))
}

// AllSubjects returns the wildcard subject matching every lifecycle event.
func AllSubjects() string {
	return SubjectPrefix + ".>"
}

func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
