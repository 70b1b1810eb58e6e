package saga

import "time"

// MetricsRecorder records transaction runtime metrics. The prometheus
// implementation lives in pkg/metrics; the worker only sees this surface.
type MetricsRecorder interface {
	RecordTransaction(status string)
	RecordTransactionDuration(status string, duration time.Duration)
	IncActiveTransactions()
	DecActiveTransactions()
	RecordStep(step, status string)
	RecordStepDuration(step string, duration time.Duration)
	RecordCompensation(status string)
	RecordCompensationDuration(duration time.Duration)
	RecordCompensationRetry()
	RecordLockConflict()
	RecordQuarantine(classification string)
}

// Transaction and step status label values.
const (
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCompensated = "compensated"
	StatusQuarantined = "quarantined"
	StatusBusy        = "busy"
)

type nopMetricsRecorder struct{}

func (n *nopMetricsRecorder) RecordTransaction(string)                        {}
func (n *nopMetricsRecorder) RecordTransactionDuration(string, time.Duration) {}
func (n *nopMetricsRecorder) IncActiveTransactions()                          {}
func (n *nopMetricsRecorder) DecActiveTransactions()                          {}
func (n *nopMetricsRecorder) RecordStep(string, string)                       {}
func (n *nopMetricsRecorder) RecordStepDuration(string, time.Duration)        {}
func (n *nopMetricsRecorder) RecordCompensation(string)                       {}
func (n *nopMetricsRecorder) RecordCompensationDuration(time.Duration)        {}
func (n *nopMetricsRecorder) RecordCompensationRetry()                        {}
func (n *nopMetricsRecorder) RecordLockConflict()                             {}
func (n *nopMetricsRecorder) RecordQuarantine(string)                         {}
