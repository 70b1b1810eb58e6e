package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initGRPCMetrics initializes gRPC operations API metrics.
func (m *Manager) initGRPCMetrics(cfg Config) {
	m.grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests",
		},
		[]string{"method", "code"},
	)

	m.grpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   cfg.GRPCDurationBuckets,
		},
		[]string{"method"},
	)

	m.grpcMsgSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "message_size_bytes",
			Help:      "gRPC message size in bytes",
			Buckets:   cfg.MessageSizeBuckets,
		},
		[]string{"direction"},
	)

	m.registry.MustRegister(m.grpcRequests)
	m.registry.MustRegister(m.grpcDuration)
	m.registry.MustRegister(m.grpcMsgSize)
}

// RecordGRPCRequest records a completed gRPC call with its status code.
func (m *Manager) RecordGRPCRequest(method, code string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.grpcRequests.WithLabelValues(method, code).Inc()
	m.grpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordGRPCMessageSize records the size of a sent or received gRPC message.
// Direction is "sent" or "received".
func (m *Manager) RecordGRPCMessageSize(direction string, bytes int) {
	if !m.enabled {
		return
	}
	m.grpcMsgSize.WithLabelValues(direction).Observe(float64(bytes))
}
