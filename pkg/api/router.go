// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tranor/tranor/config"
	"github.com/tranor/tranor/pkg/api/handlers"
	"github.com/tranor/tranor/pkg/api/middleware"
	"github.com/tranor/tranor/pkg/logger"

	_ "github.com/tranor/tranor/docs/swagger" // Import generated docs
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Transactions handles transaction submission and status endpoints
	Transactions *handlers.TransactionHandler

	// Quarantine handles quarantine inspection endpoints
	Quarantine *handlers.QuarantineHandler

	// Compensations handles compensation failure endpoints
	Compensations *handlers.CompensationHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams lifecycle events to clients
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// RateLimit is the optional per-client request limiter
	RateLimit *middleware.RateLimiter
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}
	if handlers.RateLimit != nil {
		r.Use(middleware.RateLimit(handlers.RateLimit))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))

	// Register routes
	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Transaction routes
		if handlers.Transactions != nil {
			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", handlers.Transactions.SubmitTransaction)
				r.Get("/{id}", handlers.Transactions.GetTransaction)
				r.Get("/{id}/journal", handlers.Transactions.GetJournal)
			})
			r.Get("/registry/steps", handlers.Transactions.ListSteps)
		}

		// Quarantine routes
		if handlers.Quarantine != nil {
			r.Route("/quarantine", func(r chi.Router) {
				r.Get("/", handlers.Quarantine.ListActive)
				r.Get("/retryable", handlers.Quarantine.ListRetryable)
				r.Get("/stats", handlers.Quarantine.GetStats)
				r.Post("/{id}/handle", handlers.Quarantine.Handle)
			})
		}

		// Compensation failure routes
		if handlers.Compensations != nil {
			r.Route("/compensations", func(r chi.Router) {
				r.Get("/failures", handlers.Compensations.ListFailures)
				r.Post("/failures/retry", handlers.Compensations.RetryFailure)
			})
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	// Lifecycle event stream
	if handlers.WebSocket != nil {
		r.Get("/ws/events", handlers.WebSocket.ServeHTTP)
	}

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.WrapHandler)
}
