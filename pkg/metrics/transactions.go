package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initTransactionMetrics initializes saga transaction metrics. The
// Manager satisfies saga.MetricsRecorder through the methods below.
func (m *Manager) initTransactionMetrics(cfg Config) {
	m.txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transactions by terminal status",
		},
		[]string{"status"},
	)

	m.txDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Transaction execution duration in seconds",
			Buckets:   cfg.TransactionDurationBuckets,
		},
		[]string{"status"},
	)

	m.txActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transactions_active",
			Help:      "Current number of in-flight transactions",
		},
	)

	m.stepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of step executions by step and status",
		},
		[]string{"step", "status"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   cfg.StepDurationBuckets,
		},
		[]string{"step"},
	)

	m.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Total number of compensation phases by status",
		},
		[]string{"status"},
	)

	m.compensationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compensation_duration_seconds",
			Help:      "Compensation phase duration in seconds",
			Buckets:   cfg.StepDurationBuckets,
		},
	)

	m.compensationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_retries_total",
			Help:      "Total number of operator-driven compensation retries",
		},
	)

	m.lockConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_conflicts_total",
			Help:      "Total number of jobs that yielded to a foreign resource lock",
		},
	)

	m.quarantined = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantined_jobs_total",
			Help:      "Total number of quarantined jobs by failure classification",
		},
		[]string{"classification"},
	)

	m.registry.MustRegister(m.txTotal)
	m.registry.MustRegister(m.txDuration)
	m.registry.MustRegister(m.txActive)
	m.registry.MustRegister(m.stepTotal)
	m.registry.MustRegister(m.stepDuration)
	m.registry.MustRegister(m.compensations)
	m.registry.MustRegister(m.compensationDuration)
	m.registry.MustRegister(m.compensationRetries)
	m.registry.MustRegister(m.lockConflicts)
	m.registry.MustRegister(m.quarantined)
}

// RecordTransaction records one transaction outcome.
func (m *Manager) RecordTransaction(status string) {
	if !m.enabled {
		return
	}
	m.txTotal.WithLabelValues(status).Inc()
}

// RecordTransactionDuration records transaction latency.
func (m *Manager) RecordTransactionDuration(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.txDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveTransactions increments the in-flight transaction count.
func (m *Manager) IncActiveTransactions() {
	if !m.enabled {
		return
	}
	m.txActive.Inc()
}

// DecActiveTransactions decrements the in-flight transaction count.
func (m *Manager) DecActiveTransactions() {
	if !m.enabled {
		return
	}
	m.txActive.Dec()
}

// RecordStep records one step execution outcome.
func (m *Manager) RecordStep(step, status string) {
	if !m.enabled {
		return
	}
	m.stepTotal.WithLabelValues(step, status).Inc()
}

// RecordStepDuration records step execution latency.
func (m *Manager) RecordStepDuration(step string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordCompensation records one compensation phase outcome.
func (m *Manager) RecordCompensation(status string) {
	if !m.enabled {
		return
	}
	m.compensations.WithLabelValues(status).Inc()
}

// RecordCompensationDuration records compensation phase duration.
func (m *Manager) RecordCompensationDuration(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.compensationDuration.Observe(duration.Seconds())
}

// RecordCompensationRetry records one compensation retry.
func (m *Manager) RecordCompensationRetry() {
	if !m.enabled {
		return
	}
	m.compensationRetries.Inc()
}

// RecordLockConflict records a job that found its resources locked.
func (m *Manager) RecordLockConflict() {
	if !m.enabled {
		return
	}
	m.lockConflicts.Inc()
}

// RecordQuarantine records a job moved to the quarantine store.
func (m *Manager) RecordQuarantine(classification string) {
	if !m.enabled {
		return
	}
	m.quarantined.WithLabelValues(classification).Inc()
}
