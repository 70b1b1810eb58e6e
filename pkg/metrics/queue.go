package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initQueueMetrics initializes job queue metrics. The Manager satisfies
// queue.MetricsRecorder through the methods below.
func (m *Manager) initQueueMetrics(cfg Config) {
	m.queueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
	)

	m.queueOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "outcomes_total",
			Help:      "Total number of job deliveries by outcome",
		},
		[]string{"outcome"},
	)

	m.queueProcess = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "process_duration_seconds",
			Help:      "Handler duration per delivery in seconds",
			Buckets:   cfg.QueueProcessBuckets,
		},
	)

	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current queue depth by state",
		},
		[]string{"state"},
	)

	m.registry.MustRegister(m.queueEnqueued)
	m.registry.MustRegister(m.queueOutcomes)
	m.registry.MustRegister(m.queueProcess)
	m.registry.MustRegister(m.queueDepth)
}

// RecordEnqueued records one job submission.
func (m *Manager) RecordEnqueued() {
	if !m.enabled {
		return
	}
	m.queueEnqueued.Inc()
}

// RecordCompleted records one delivery acknowledged as done.
func (m *Manager) RecordCompleted() {
	if !m.enabled {
		return
	}
	m.queueOutcomes.WithLabelValues("completed").Inc()
}

// RecordFailed records one delivery that exhausted its attempts.
func (m *Manager) RecordFailed() {
	if !m.enabled {
		return
	}
	m.queueOutcomes.WithLabelValues("failed").Inc()
}

// RecordRetried records one delivery returned for redelivery.
func (m *Manager) RecordRetried() {
	if !m.enabled {
		return
	}
	m.queueOutcomes.WithLabelValues("retried").Inc()
}

// RecordStalled records one delivery rescued after a lapsed lease.
func (m *Manager) RecordStalled() {
	if !m.enabled {
		return
	}
	m.queueOutcomes.WithLabelValues("stalled").Inc()
}

// RecordProcessDuration records handler latency for one delivery.
func (m *Manager) RecordProcessDuration(d time.Duration) {
	if !m.enabled {
		return
	}
	m.queueProcess.Observe(d.Seconds())
}

// SetDepth records the current pending and active queue depths.
func (m *Manager) SetDepth(pending, active int64) {
	if !m.enabled {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("active").Set(float64(active))
}
