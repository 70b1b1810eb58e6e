// Package metrics provides Prometheus metrics instrumentation for tranor.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric exported by this package.
const namespace = "tranor"

// Manager owns the Prometheus registry and all tranor collectors. It
// satisfies the recorder interfaces of the saga, queue and eventbus
// packages so a single instance can be wired everywhere.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Transaction metrics
	txTotal              *prometheus.CounterVec
	txDuration           *prometheus.HistogramVec
	txActive             prometheus.Gauge
	stepTotal            *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	compensations        *prometheus.CounterVec
	compensationDuration prometheus.Histogram
	compensationRetries  prometheus.Counter
	lockConflicts        prometheus.Counter
	quarantined          *prometheus.CounterVec

	// Queue metrics
	queueEnqueued prometheus.Counter
	queueOutcomes *prometheus.CounterVec
	queueProcess  prometheus.Histogram
	queueDepth    *prometheus.GaugeVec

	// Event publisher metrics
	eventPublishes  *prometheus.CounterVec
	eventRetries    prometheus.Counter
	eventDegraded   prometheus.Gauge
	eventOutages    prometheus.Counter
	eventRecoveries prometheus.Counter

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge

	// gRPC metrics
	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
	grpcMsgSize  *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	TransactionDurationBuckets []float64
	StepDurationBuckets        []float64
	QueueProcessBuckets        []float64
	HTTPDurationBuckets        []float64
	GRPCDurationBuckets        []float64
	MessageSizeBuckets         []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Port:    9091,
		Path:    "/metrics",
		TransactionDurationBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		StepDurationBuckets:        []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		QueueProcessBuckets:        []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		HTTPDurationBuckets:        []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		GRPCDurationBuckets:        []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		MessageSizeBuckets:         prometheus.ExponentialBuckets(64, 4, 8),
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initTransactionMetrics(cfg)
	m.initQueueMetrics(cfg)
	m.initEventMetrics(cfg)
	m.initHTTPMetrics(cfg)
	m.initGRPCMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry exposes the underlying registry for additional collectors.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
