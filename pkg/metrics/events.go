package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// initEventMetrics initializes lifecycle event publisher metrics. The
// Manager satisfies eventbus.Telemetry through the methods below.
func (m *Manager) initEventMetrics(cfg Config) {
	m.eventPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of lifecycle event publishes by status",
		},
		[]string{"status"},
	)

	m.eventRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_retries_total",
			Help:      "Total number of publish retry attempts",
		},
	)

	m.eventDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "degraded_mode",
			Help:      "Whether the publisher is in degraded mode (0 or 1)",
		},
	)

	m.eventOutages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "transport_outages_total",
			Help:      "Total number of transport outages observed",
		},
	)

	m.eventRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "transport_recoveries_total",
			Help:      "Total number of transport recoveries observed",
		},
	)

	m.registry.MustRegister(m.eventPublishes)
	m.registry.MustRegister(m.eventRetries)
	m.registry.MustRegister(m.eventDegraded)
	m.registry.MustRegister(m.eventOutages)
	m.registry.MustRegister(m.eventRecoveries)
}

// RecordPublish records one publish attempt outcome.
func (m *Manager) RecordPublish(status string) {
	if !m.enabled {
		return
	}
	m.eventPublishes.WithLabelValues(status).Inc()
}

// RecordRetry records one publish retry.
func (m *Manager) RecordRetry() {
	if !m.enabled {
		return
	}
	m.eventRetries.Inc()
}

// SetDegradedMode flags whether the publisher is dropping events.
func (m *Manager) SetDegradedMode(active bool) {
	if !m.enabled {
		return
	}
	if active {
		m.eventDegraded.Set(1)
		return
	}
	m.eventDegraded.Set(0)
}

// RecordOutage records a transport outage.
func (m *Manager) RecordOutage() {
	if !m.enabled {
		return
	}
	m.eventOutages.Inc()
}

// RecordRecovery records a transport recovery.
func (m *Manager) RecordRecovery() {
	if !m.enabled {
		return
	}
	m.eventRecoveries.Inc()
}
