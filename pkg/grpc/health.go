package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer wraps the standard gRPC health service.
type HealthServer struct {
	server *health.Server
}

// NewHealthServer creates a health service.
func NewHealthServer() *HealthServer {
	return &HealthServer{
		server: health.NewServer(),
	}
}

// SetServingStatus sets the serving status for a service.
func (h *HealthServer) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus(service, status)
}

// SetServingStatusAll sets the serving status for all services.
func (h *HealthServer) SetServingStatusAll(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
}

// Shutdown moves every service to NOT_SERVING.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// Resume moves every service back to SERVING.
func (h *HealthServer) Resume() {
	h.server.Resume()
}

// GetServer returns the underlying health server for registration.
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}

// ReadinessProbe reports whether the backing store is reachable.
type ReadinessProbe func(ctx context.Context) error

// WatchReadiness flips the health service between SERVING and NOT_SERVING
// with the probe result, so orchestrators stop routing when Redis is down.
// It blocks until ctx ends and is a no-op when the health service is
// disabled.
func (s *Server) WatchReadiness(ctx context.Context, probe ReadinessProbe, interval time.Duration) {
	s.mu.RLock()
	hs := s.healthServer
	s.mu.RUnlock()

	if hs == nil || probe == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Start() reported SERVING already.
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, interval)
		err := probe(probeCtx)
		cancel()

		healthy := err == nil
		if healthy == serving {
			continue
		}
		serving = healthy

		if healthy {
			s.log.Info("grpc readiness restored")
			hs.SetServingStatusAll(grpc_health_v1.HealthCheckResponse_SERVING)
		} else {
			s.log.Warn("grpc readiness lost", "error", err)
			hs.SetServingStatusAll(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		}
	}
}
