// Package interceptors provides the server interceptor chain for the ops
// gRPC endpoint.
package interceptors

import (
	"google.golang.org/grpc"

	"github.com/tranor/tranor/pkg/logger"
)

// ChainBuilder assembles server interceptors in the order they are added.
type ChainBuilder struct {
	unary  []grpc.UnaryServerInterceptor
	stream []grpc.StreamServerInterceptor
}

// NewChainBuilder creates an empty chain.
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// WithRecovery adds panic recovery. It should come first so later
// interceptors are covered.
func (b *ChainBuilder) WithRecovery(log logger.Logger) *ChainBuilder {
	b.unary = append(b.unary, RecoveryUnaryInterceptor(log))
	b.stream = append(b.stream, RecoveryStreamInterceptor(log))
	return b
}

// WithRequestID adds request ID propagation.
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	b.unary = append(b.unary, RequestIDUnaryInterceptor())
	b.stream = append(b.stream, RequestIDStreamInterceptor())
	return b
}

// WithLogging adds per-call logging.
func (b *ChainBuilder) WithLogging(log logger.Logger) *ChainBuilder {
	b.unary = append(b.unary, LoggingUnaryInterceptor(log))
	b.stream = append(b.stream, LoggingStreamInterceptor(log))
	return b
}

// WithRateLimit adds per-client rate limiting.
func (b *ChainBuilder) WithRateLimit(requestsPerSecond float64, burst int) *ChainBuilder {
	rl := NewRateLimiter(requestsPerSecond, burst)
	b.unary = append(b.unary, RateLimitUnaryInterceptor(rl))
	b.stream = append(b.stream, RateLimitStreamInterceptor(rl))
	return b
}

// WithMetrics adds call metrics.
func (b *ChainBuilder) WithMetrics(rec MetricsRecorder) *ChainBuilder {
	b.unary = append(b.unary, MetricsUnaryInterceptor(rec))
	b.stream = append(b.stream, MetricsStreamInterceptor(rec))
	return b
}

// WithTracing adds OpenTelemetry spans.
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	b.unary = append(b.unary, TracingUnaryInterceptor())
	b.stream = append(b.stream, TracingStreamInterceptor())
	return b
}

// Build returns the chain as grpc server options.
func (b *ChainBuilder) Build() []grpc.ServerOption {
	opts := make([]grpc.ServerOption, 0, 2)

	if len(b.unary) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(b.unary...))
	}
	if len(b.stream) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(b.stream...))
	}

	return opts
}

// DefaultChain wires the standard order:
// recovery -> request_id -> logging -> rate_limit -> metrics
func DefaultChain(log logger.Logger, rec MetricsRecorder) *ChainBuilder {
	return NewChainBuilder().
		WithRecovery(log).
		WithRequestID().
		WithLogging(log).
		WithRateLimit(100, 200).
		WithMetrics(rec)
}
