// Package grpc runs the operations gRPC endpoint. It serves health checks
// for orchestration probes and optional reflection; the transaction API
// itself is HTTP.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/tranor/tranor/pkg/grpc/interceptors"
	"github.com/tranor/tranor/pkg/logger"
)

// Server is the ops gRPC server.
type Server struct {
	config       *Config
	log          logger.Logger
	metrics      interceptors.MetricsRecorder
	grpcSrv      *grpc.Server
	listener     net.Listener
	healthServer *HealthServer
	mu           sync.RWMutex
	running      bool
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the recorder used by the metrics interceptor.
func WithMetrics(rec interceptors.MetricsRecorder) Option {
	return func(s *Server) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// New creates a Server with the given configuration.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc: config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grpc: invalid config: %w", err)
	}

	s := &Server{
		config: cfg,
		log:    logger.Global(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("grpc: server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("grpc: listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	opts, err := s.buildServerOptions()
	if err != nil {
		listener.Close()
		return fmt.Errorf("grpc: build server options: %w", err)
	}

	s.grpcSrv = grpc.NewServer(opts...)

	if s.config.EnableReflection {
		reflection.Register(s.grpcSrv)
	}

	if s.config.EnableHealthCheck {
		s.healthServer = NewHealthServer()
		grpc_health_v1.RegisterHealthServer(s.grpcSrv, s.healthServer.GetServer())
		s.healthServer.SetServingStatusAll(grpc_health_v1.HealthCheckResponse_SERVING)
	}

	s.running = true
	s.log.Info("grpc server listening", "address", listener.Addr().String())

	go func() {
		if err := s.grpcSrv.Serve(listener); err != nil {
			s.log.Error("grpc server stopped", "error", err)
		}
	}()

	return nil
}

// Stop drains the server gracefully, forcing a stop when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	// Flip health to NOT_SERVING so balancers stop routing before the
	// listener goes away.
	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
		s.running = false
		return fmt.Errorf("grpc: graceful shutdown timeout, forced stop")
	}

	s.running = false
	s.log.Info("grpc server stopped")
	return nil
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// buildServerOptions constructs gRPC server options from config.
func (s *Server) buildServerOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	if s.config.TLS != nil && s.config.TLS.Enabled {
		creds, err := s.buildTLSCredentials()
		if err != nil {
			return nil, fmt.Errorf("build TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	if s.config.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(s.config.MaxConnections)))
	}

	if s.config.Keepalive != nil {
		kaParams := keepalive.ServerParameters{
			MaxConnectionIdle:     time.Duration(s.config.Keepalive.MaxIdleSeconds) * time.Second,
			MaxConnectionAge:      time.Duration(s.config.Keepalive.MaxAgeSeconds) * time.Second,
			MaxConnectionAgeGrace: time.Duration(s.config.Keepalive.MaxAgeGraceSeconds) * time.Second,
			Time:                  time.Duration(s.config.Keepalive.TimeSeconds) * time.Second,
			Timeout:               time.Duration(s.config.Keepalive.TimeoutSeconds) * time.Second,
		}
		opts = append(opts, grpc.KeepaliveParams(kaParams))

		kaPolicy := keepalive.EnforcementPolicy{
			MinTime:             time.Duration(s.config.Keepalive.MinTimeSeconds) * time.Second,
			PermitWithoutStream: s.config.Keepalive.PermitWithoutStream,
		}
		opts = append(opts, grpc.KeepaliveEnforcementPolicy(kaPolicy))
	}

	if s.config.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.config.MaxRecvMsgSize))
	}
	if s.config.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(s.config.MaxSendMsgSize))
	}

	chain := interceptors.NewChainBuilder().
		WithRecovery(s.log).
		WithRequestID().
		WithLogging(s.log)
	if s.config.RateLimitPerSecond > 0 {
		chain.WithRateLimit(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
	}
	chain.WithMetrics(s.metrics)
	if s.config.EnableTracing {
		chain.WithTracing()
	}
	opts = append(opts, chain.Build()...)

	return opts, nil
}

// buildTLSCredentials creates transport credentials from config.
func (s *Server) buildTLSCredentials() (credentials.TransportCredentials, error) {
	tlsCfg := s.config.TLS
	if tlsCfg == nil || !tlsCfg.Enabled {
		return nil, fmt.Errorf("TLS not enabled")
	}

	cert, err := credentials.NewServerTLSFromFile(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	if !tlsCfg.ClientAuth || tlsCfg.CAFile == "" {
		return cert, nil
	}

	tlsConfig, err := s.buildMTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("build mTLS config: %w", err)
	}

	return credentials.NewTLS(tlsConfig), nil
}

// buildMTLSConfig creates a TLS config requiring client certificates.
func (s *Server) buildMTLSConfig() (*tls.Config, error) {
	tlsCfg := s.config.TLS

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	caCert, err := os.ReadFile(tlsCfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
