package queue

import "time"

// MetricsRecorder receives queue lifecycle observations. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	RecordEnqueued()
	RecordCompleted()
	RecordFailed()
	RecordRetried()
	RecordStalled()
	RecordProcessDuration(d time.Duration)
	SetDepth(pending, active int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordEnqueued()                     {}
func (nopMetrics) RecordCompleted()                    {}
func (nopMetrics) RecordFailed()                       {}
func (nopMetrics) RecordRetried()                      {}
func (nopMetrics) RecordStalled()                      {}
func (nopMetrics) RecordProcessDuration(time.Duration) {}
func (nopMetrics) SetDepth(int64, int64)               {}
