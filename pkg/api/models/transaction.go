package models

import (
	"time"

	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/saga"
)

// TransactionSubmitRequest describes a logical transaction submission.
type TransactionSubmitRequest struct {
	UserID          int64             `json:"user_id" validate:"required"`
	Steps           []string          `json:"steps" validate:"required,min=1,dive,required,max=100"`
	Resources       []ResourceRequest `json:"resources,omitempty" validate:"omitempty,dive"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty" validate:"omitempty,max=200"`
	Attempts        int               `json:"attempts,omitempty" validate:"omitempty,min=1,max=25"`
	BusinessContext map[string]any    `json:"business_context,omitempty"`
}

// ResourceRequest names one resource the transaction locks.
type ResourceRequest struct {
	Type   string `json:"type" validate:"required,min=1,max=100"`
	ID     string `json:"id" validate:"required,min=1,max=200"`
	Action string `json:"action,omitempty" validate:"omitempty,max=100"`
}

// TransactionSubmitResponse is returned when a transaction is accepted.
type TransactionSubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// QuarantineHandleRequest marks a quarantined job as handled.
type QuarantineHandleRequest struct {
	Note string `json:"note,omitempty" validate:"omitempty,max=500"`
}

// QuarantineHandleResponse acknowledges manual quarantine handling.
type QuarantineHandleResponse struct {
	DLQID  string `json:"dlq_id"`
	Status string `json:"status"`
}

// CompensationRetryRequest retries one persistent compensation failure.
type CompensationRetryRequest struct {
	Key string `json:"key" validate:"required,min=1"`
}

// CompensationRetryResponse acknowledges a compensation retry.
type CompensationRetryResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// StepListResponse lists registered step names.
type StepListResponse struct {
	Steps []string `json:"steps"`
	Count int      `json:"count"`
}

// JournalResponse carries the persisted execution journal for one job.
type JournalResponse struct {
	JobID   string              `json:"job_id"`
	Entries []saga.JournalEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// QuarantineListResponse lists quarantine records.
type QuarantineListResponse struct {
	Records []quarantine.Record `json:"records"`
	Count   int                 `json:"count"`
}

// CompensationFailuresResponse lists persistent compensation failures.
type CompensationFailuresResponse struct {
	Failures []saga.FailureRecord `json:"failures"`
	Count    int                  `json:"count"`
}

// StatusResponse is the service status summary.
type StatusResponse struct {
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	Uptime        string    `json:"uptime"`
	StartedAt     time.Time `json:"started_at"`
	Steps         int       `json:"steps"`
	ActiveDLQ     int64     `json:"active_dlq"`
	ProcessedDLQ  int64     `json:"processed_dlq"`
	EventsDropped int64     `json:"events_dropped"`
}
