package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/config"
	"github.com/tranor/tranor/pkg/api/handlers"
	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/queue"
	"github.com/tranor/tranor/pkg/saga"
)

// setupBenchmarkServer creates a test server for benchmarking
func setupBenchmarkServer(b *testing.B) *httptest.Server {
	b.Helper()
	srv := miniredis.RunT(b)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	b.Cleanup(func() { _ = rdb.Close() })

	log := logger.New(&logger.Config{
		Level:  logger.ErrorLevel, // Reduce logging noise in benchmarks
		Format: "json",
		Output: "stdout",
	})

	registry := saga.NewRegistry()
	err := registry.Register(saga.StepDefinition{
		Name: "charge_fee",
		Execute: func(ctx context.Context, ec *saga.ExecContext) (any, error) {
			return map[string]any{"fee": 25}, nil
		},
	})
	if err != nil {
		b.Fatalf("Register() unexpected error: %v", err)
	}

	q, err := queue.New(rdb, nil)
	if err != nil {
		b.Fatalf("queue.New() unexpected error: %v", err)
	}
	dlq := quarantine.NewStore(rdb)
	comp := saga.NewCompensator(rdb, registry)
	coord, err := saga.NewCoordinator(q, rdb, registry,
		saga.WithQuarantine(dlq),
		saga.WithCompensator(comp),
	)
	if err != nil {
		b.Fatalf("NewCoordinator() unexpected error: %v", err)
	}

	benchHandlers := &Handlers{
		Transactions:  handlers.NewTransactionHandler(coord, log),
		Quarantine:    handlers.NewQuarantineHandler(coord, log),
		Compensations: handlers.NewCompensationHandler(coord, log),
		Health:        handlers.NewHealthHandler(coord, rdb, nil),
	}

	server := httptest.NewServer(NewRouter(benchConfig(), log, benchHandlers))
	b.Cleanup(server.Close)
	return server
}

func benchConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
			HTTP: config.HTTPConfig{
				ReadTimeout:    30 * time.Second,
				WriteTimeout:   30 * time.Second,
				IdleTimeout:    60 * time.Second,
				RequestTimeout: 30 * time.Second,
			},
			CORS: config.CORSConfig{
				Enabled: false,
			},
		},
	}
}

// BenchmarkHealthCheck benchmarks the health check endpoint
func BenchmarkHealthCheck(b *testing.B) {
	server := setupBenchmarkServer(b)
	client := server.Client()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := client.Get(server.URL + "/health")
		if err != nil {
			b.Fatalf("Failed to call health check: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b.Fatalf("Health check status = %v, want %v", resp.StatusCode, http.StatusOK)
		}
	}
}

// BenchmarkStatusCheck benchmarks the status endpoint
func BenchmarkStatusCheck(b *testing.B) {
	server := setupBenchmarkServer(b)
	client := server.Client()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := client.Get(server.URL + "/status")
		if err != nil {
			b.Fatalf("Failed to call status check: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b.Fatalf("Status check status = %v, want %v", resp.StatusCode, http.StatusOK)
		}
	}
}

// BenchmarkSubmitTransaction benchmarks transaction submission
func BenchmarkSubmitTransaction(b *testing.B) {
	server := setupBenchmarkServer(b)
	client := server.Client()

	req := models.TransactionSubmitRequest{
		UserID: 42,
		Steps:  []string{"charge_fee"},
	}
	body, _ := json.Marshal(req)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := client.Post(server.URL+"/api/v1/transactions", "application/json", bytes.NewReader(body))
		if err != nil {
			b.Fatalf("Failed to submit transaction: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			b.Fatalf("Submit transaction status = %v, want %v", resp.StatusCode, http.StatusAccepted)
		}
	}
}

// BenchmarkGetTransaction benchmarks transaction status retrieval
func BenchmarkGetTransaction(b *testing.B) {
	server := setupBenchmarkServer(b)
	client := server.Client()

	// Submit a transaction first
	req := models.TransactionSubmitRequest{
		UserID: 42,
		Steps:  []string{"charge_fee"},
	}
	body, _ := json.Marshal(req)
	resp, err := client.Post(server.URL+"/api/v1/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		b.Fatalf("Failed to submit transaction: %v", err)
	}

	var submitted models.TransactionSubmitResponse
	json.NewDecoder(resp.Body).Decode(&submitted)
	resp.Body.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := client.Get(server.URL + "/api/v1/transactions/" + submitted.JobID)
		if err != nil {
			b.Fatalf("Failed to get transaction: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b.Fatalf("Get transaction status = %v, want %v", resp.StatusCode, http.StatusOK)
		}
	}
}
