package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "tranor",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:        30 * time.Second,
				WriteTimeout:       30 * time.Second,
				IdleTimeout:        120 * time.Second,
				ShutdownTimeout:    15 * time.Second,
				RequestTimeout:     60 * time.Second,
				MaxHeaderBytes:     1 << 20, // 1MB
				RateLimitPerSecond: 50,
				RateLimitBurst:     100,
			},
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: false,
				MaxAge:           300,
			},
			GRPC: GRPCConfig{
				Enabled:            false,
				Port:               9090,
				MaxConnections:     1000,
				MaxRecvMsgSize:     4 * 1024 * 1024, // 4MB
				MaxSendMsgSize:     4 * 1024 * 1024, // 4MB
				EnableReflection:   false,
				EnableHealthCheck:  true,
				RateLimitPerSecond: 0,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdleSeconds:      300,
					MaxAgeSeconds:       3600,
					MaxAgeGraceSeconds:  60,
					TimeSeconds:         60,
					TimeoutSeconds:      20,
					MinTimeSeconds:      30,
					PermitWithoutStream: false,
				},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			Password:     "",
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Transaction: TransactionConfig{
			QueuePrefix:     "tranor:queue",
			DefaultAttempts: 1,
			IdempotencyTTL:  time.Hour,
			LockTTLSeconds:  30,
			DedupTTL:        time.Hour,
			Consumer: ConsumerConfig{
				Concurrency:       4,
				VisibilityTimeout: 30 * time.Second,
				BlockTimeout:      2 * time.Second,
				JanitorInterval:   15 * time.Second,
				MaxStalls:         1,
			},
		},
		Journal: JournalConfig{
			Enabled:        true,
			Path:           "./data/journal",
			WriteMode:      "sync",
			AsyncQueueSize: 1024,
			Retention:      7 * 24 * time.Hour,
			SweepInterval:  time.Hour,
		},
		Events: EventsConfig{
			Enabled:        true,
			NodeID:         "",
			BufferSize:     64,
			MaxRetries:     3,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			SampleRate: 0.1,
			Insecure:   true,
		},
	}
}
