package main

// @title Tranor API
// @version 1.0
// @description Logical transaction orchestration over a non-transactional store.

// @contact.name API Support
// @contact.url https://github.com/tranor/tranor

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/config"
	"github.com/tranor/tranor/pkg/api"
	"github.com/tranor/tranor/pkg/api/events"
	"github.com/tranor/tranor/pkg/api/handlers"
	"github.com/tranor/tranor/pkg/api/middleware"
	"github.com/tranor/tranor/pkg/eventbus"
	grpcserver "github.com/tranor/tranor/pkg/grpc"
	"github.com/tranor/tranor/pkg/lock"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/metrics"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/queue"
	"github.com/tranor/tranor/pkg/saga"
	"github.com/tranor/tranor/pkg/telemetry/tracing"
	"github.com/tranor/tranor/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
	helpFlag    = flag.Bool("help", false, "Print help information and exit")
	serverPort  = flag.Int("port", 0, "HTTP API port (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	debugMode   = flag.Bool("debug", false, "Enable debug mode (overrides config)")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.App.Debug {
		level = logger.DebugLevel
	}
	log := logger.New(&logger.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	logger.SetGlobal(log)
	defer log.Close()

	log.Info("starting tranor",
		"version", version.Version,
		"build_time", version.BuildTime,
		"git_commit", version.GitCommit,
		"environment", cfg.App.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		log.Error("redis unreachable", "address", cfg.Redis.Address, "error", err)
		os.Exit(1)
	}

	// Every lock, queue entry, quarantine record and idempotency binding
	// lives in Redis; the journal is the only local state.
	var journal saga.Journal = saga.NopJournal{}
	var badgerJournal *saga.BadgerJournal
	if cfg.Journal.Enabled {
		badgerJournal, err = saga.OpenBadgerJournal(cfg.Journal.Path, saga.JournalOptions{
			WriteMode:      saga.JournalWriteMode(cfg.Journal.WriteMode),
			AsyncQueueSize: cfg.Journal.AsyncQueueSize,
		})
		if err != nil {
			log.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			os.Exit(1)
		}
		journal = badgerJournal
	}

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)
	if metricsManager.Enabled() {
		go func() {
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	registry := saga.NewRegistry()
	locks := lock.NewManager(rdb,
		lock.WithTTL(cfg.Transaction.LockTTL()),
		lock.WithLogger(log),
	)
	q, err := queue.New(rdb, &queue.Config{
		Prefix:   cfg.Transaction.QueuePrefix,
		DedupTTL: cfg.Transaction.DedupTTL,
	})
	if err != nil {
		log.Error("failed to create queue", "error", err)
		os.Exit(1)
	}
	q.SetMetrics(metricsManager)
	qstore := quarantine.NewStore(rdb, quarantine.WithLogger(log))

	bus := eventbus.NewMemoryBus()
	var publisher *eventbus.Publisher
	if cfg.Events.Enabled {
		publisher, err = eventbus.NewPublisher(nodeID(cfg), bus, eventbus.RetryConfig{
			MaxRetries:     cfg.Events.MaxRetries,
			InitialBackoff: cfg.Events.InitialBackoff,
			MaxBackoff:     cfg.Events.MaxBackoff,
			BackoffFactor:  cfg.Events.BackoffFactor,
		}, metricsManager)
		if err != nil {
			log.Error("failed to create event publisher", "error", err)
			os.Exit(1)
		}
	}

	compensator := saga.NewCompensator(rdb, registry,
		saga.WithCompensatorLogger(log),
		saga.WithCompensatorJournal(journal),
		saga.WithCompensatorMetrics(metricsManager),
	)

	coordOpts := []saga.CoordinatorOption{
		saga.WithQuarantine(qstore),
		saga.WithCompensator(compensator),
		saga.WithCoordinatorJournal(journal),
		saga.WithCoordinatorLogger(log),
		saga.WithCoordinatorMetrics(metricsManager),
		saga.WithIdempotencyTTL(cfg.Transaction.IdempotencyTTL),
		saga.WithDefaultAttempts(cfg.Transaction.DefaultAttempts),
	}
	if publisher != nil {
		coordOpts = append(coordOpts, saga.WithCoordinatorEvents(publisher))
	}
	coordinator, err := saga.NewCoordinator(q, rdb, registry, coordOpts...)
	if err != nil {
		log.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	workerOpts := []saga.WorkerOption{
		saga.WithWorkerQuarantine(qstore),
		saga.WithWorkerJournal(journal),
		saga.WithWorkerLogger(log),
		saga.WithWorkerMetrics(metricsManager),
	}
	if publisher != nil {
		workerOpts = append(workerOpts, saga.WithWorkerEvents(publisher))
	}
	worker, err := saga.NewWorker(registry, locks, q, compensator, workerOpts...)
	if err != nil {
		log.Error("failed to create worker", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(q, &queue.ConsumerConfig{
		Name:              consumerName(),
		Concurrency:       cfg.Transaction.Consumer.Concurrency,
		VisibilityTimeout: cfg.Transaction.Consumer.VisibilityTimeout,
		BlockTimeout:      cfg.Transaction.Consumer.BlockTimeout,
		JanitorInterval:   cfg.Transaction.Consumer.JanitorInterval,
		MaxStalls:         cfg.Transaction.Consumer.MaxStalls,
	}, worker.HandleDelivery)
	if err != nil {
		log.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Run(); err != nil {
		log.Error("failed to start consumer", "error", err)
		os.Exit(1)
	}

	if badgerJournal != nil && cfg.Journal.Retention > 0 {
		sweeper := saga.NewJournalRetention(badgerJournal, func(probeCtx context.Context, jobID string) bool {
			job, err := q.Job(probeCtx, jobID)
			if err != nil {
				// A job the queue no longer knows is settled by definition.
				return queue.IsJobNotFound(err)
			}
			return job.Finished()
		}, log)
		if err := sweeper.Start(ctx, cfg.Journal.SweepInterval, cfg.Journal.Retention); err != nil {
			log.Error("failed to start journal retention", "error", err)
			os.Exit(1)
		}
	}

	broadcaster := events.NewBroadcaster()
	go func() {
		if err := broadcaster.Pump(ctx, bus, cfg.Events.BufferSize); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("event pump stopped", "error", err)
		}
	}()
	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	go wsHandler.Run(ctx, broadcaster)

	var grpcServer *grpcserver.Server
	if cfg.Server.GRPC.Enabled {
		grpcServer, err = grpcserver.New(buildGRPCConfig(cfg),
			grpcserver.WithLogger(log),
			grpcserver.WithMetrics(metricsManager),
		)
		if err != nil {
			log.Error("failed to create grpc server", "error", err)
			os.Exit(1)
		}
		if err := grpcServer.Start(); err != nil {
			log.Error("failed to start grpc server", "error", err)
			os.Exit(1)
		}
		go grpcServer.WatchReadiness(ctx, func(probeCtx context.Context) error {
			return rdb.Ping(probeCtx).Err()
		}, 10*time.Second)
	}

	apiHandlers := &api.Handlers{
		Transactions:  handlers.NewTransactionHandler(coordinator, log),
		Quarantine:    handlers.NewQuarantineHandler(coordinator, log),
		Compensations: handlers.NewCompensationHandler(coordinator, log),
		Health:        handlers.NewHealthHandler(coordinator, rdb, bus),
		WebSocket:     wsHandler,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}
	if cfg.Server.HTTP.RateLimitPerSecond > 0 {
		apiHandlers.RateLimit = middleware.NewRateLimiter(
			cfg.Server.HTTP.RateLimitPerSecond,
			cfg.Server.HTTP.RateLimitBurst,
		)
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)
	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("tranor running",
		"http_address", cfg.Server.Address(),
		"grpc_enabled", cfg.Server.GRPC.Enabled,
		"metrics_enabled", metricsManager.Enabled(),
		"journal_enabled", cfg.Journal.Enabled,
	)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		log.Error("http server failed", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests first, then drain in-flight jobs so every
	// delivery either completes or returns to the waiting list.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := consumer.Close(shutdownCtx); err != nil {
		log.Error("consumer drain failed", "error", err)
	}
	if grpcServer != nil {
		if err := grpcServer.Stop(shutdownCtx); err != nil {
			log.Error("grpc shutdown failed", "error", err)
		}
	}

	cancel()
	wsHandler.Close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
	if badgerJournal != nil {
		if err := badgerJournal.Close(); err != nil {
			log.Warn("journal close failed", "error", err)
		}
	}
	if err := rdb.Close(); err != nil {
		log.Warn("redis close failed", "error", err)
	}

	log.Info("tranor stopped gracefully")
}

// buildOverrides maps command-line flags onto config keys. Only flags
// the user actually set are applied.
func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverPort > 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

// buildGRPCConfig layers the cross-section pieces the converter cannot
// see (bind host, tracing toggle, burst derivation) onto the gRPC
// section's own mapping.
func buildGRPCConfig(cfg *config.Config) *grpcserver.Config {
	out := cfg.Server.GRPC.ToGRPCConfig()
	out.Address = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPC.Port)
	out.EnableTracing = cfg.Tracing.Enabled
	if out.RateLimitPerSecond > 0 && out.RateLimitBurst == 0 {
		out.RateLimitBurst = int(out.RateLimitPerSecond) * 2
	}
	return out
}

// nodeID picks the event envelope node identity: config first, then
// hostname, then the app name.
func nodeID(cfg *config.Config) string {
	if cfg.Events.NodeID != "" {
		return cfg.Events.NodeID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return cfg.App.Name
}

// consumerName identifies this process in queue lease ownership.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tranor"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func printVersion() {
	fmt.Print(version.Human())
}

func printHelp() {
	fmt.Println("tranor - logical transaction orchestration service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tranor [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  tranor -config config.yaml")
	fmt.Println("  tranor -port 8080 -log-level debug")
	fmt.Println("  tranor -version")
}
