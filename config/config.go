// Package config provides configuration management for tranor.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a tranor process.
type Config struct {
	// App is the application identity.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API and ops gRPC listener configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Redis is the connection shared by locks, the queue, quarantine
	// and compensation records.
	Redis RedisConfig `mapstructure:"redis"`

	// Transaction tunes transaction submission and processing.
	Transaction TransactionConfig `mapstructure:"transaction"`

	// Journal is the Badger-backed execution journal configuration.
	Journal JournalConfig `mapstructure:"journal"`

	// Events configures the lifecycle event publisher.
	Events EventsConfig `mapstructure:"events"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"required,env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP API listener plus the optional ops gRPC
// endpoint.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"omitempty,host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,gte=1,lte=65535"`

	// HTTP tunes the HTTP server and its middleware.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS controls cross-origin headers on the HTTP API.
	CORS CORSConfig `mapstructure:"cors"`

	// GRPC is the ops gRPC endpoint configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// Address returns the HTTP listen address.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HTTPConfig holds HTTP server timeouts and limits.
type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// RequestTimeout bounds a single request through the timeout middleware.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	MaxHeaderBytes int `mapstructure:"max_header_bytes" validate:"gt=0"`

	// RateLimitPerSecond is the per-client-IP request budget. Zero
	// disables the limiter.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" validate:"gte=0"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst" validate:"gte=0"`
}

// CORSConfig controls cross-origin resource sharing.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" validate:"gte=0"`
}

// GRPCConfig configures the ops gRPC endpoint (health + reflection).
type GRPCConfig struct {
	// Enabled controls whether the gRPC listener starts at all.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC listen port.
	Port int `mapstructure:"port" validate:"required,gte=1,lte=65535"`

	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`

	MaxRecvMsgSize    int  `mapstructure:"max_recv_msg_size" validate:"gt=0"`
	MaxSendMsgSize    int  `mapstructure:"max_send_msg_size" validate:"gt=0"`
	EnableReflection  bool `mapstructure:"enable_reflection"`
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// RateLimitPerSecond is the unary request budget. Zero disables it.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" validate:"gte=0"`

	TLS       GRPCTLSConfig       `mapstructure:"tls"`
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds TLS material for the gRPC listener.
type GRPCTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file" validate:"omitempty,file_exists"`
	KeyFile    string `mapstructure:"key_file" validate:"omitempty,file_exists"`
	CAFile     string `mapstructure:"ca_file" validate:"omitempty,file_exists"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig mirrors grpc keepalive server parameters, in seconds.
type GRPCKeepaliveConfig struct {
	MaxIdleSeconds      int  `mapstructure:"max_idle_seconds" validate:"gte=0"`
	MaxAgeSeconds       int  `mapstructure:"max_age_seconds" validate:"gte=0"`
	MaxAgeGraceSeconds  int  `mapstructure:"max_age_grace_seconds" validate:"gte=0"`
	TimeSeconds         int  `mapstructure:"time_seconds" validate:"gte=0"`
	TimeoutSeconds      int  `mapstructure:"timeout_seconds" validate:"gte=0"`
	MinTimeSeconds      int  `mapstructure:"min_time_seconds" validate:"gte=0"`
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"required,oneof=json text"`

	// Output is the destination (stdout, stderr, or a file path).
	Output string `mapstructure:"output" validate:"required"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	// Address is the host:port of the Redis server.
	Address string `mapstructure:"address" validate:"required,host"`

	Password string `mapstructure:"password"`

	// DB is the Redis logical database.
	DB int `mapstructure:"db" validate:"gte=0,lte=15"`

	// PoolSize caps the connection pool. Zero uses the client default.
	PoolSize int `mapstructure:"pool_size" validate:"gte=0"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// TransactionConfig tunes transaction submission and processing.
type TransactionConfig struct {
	// QueuePrefix namespaces all queue keys in Redis.
	QueuePrefix string `mapstructure:"queue_prefix" validate:"required"`

	// DefaultAttempts is the delivery budget when a submission does not
	// name one.
	DefaultAttempts int `mapstructure:"default_attempts" validate:"gte=1"`

	// IdempotencyTTL bounds how long a submission key stays bound to a
	// job id.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" validate:"gt=0"`

	// LockTTLSeconds bounds orphaned resource locks. The
	// TRANSACTION_LOCK_TTL_SECONDS environment variable overrides it.
	LockTTLSeconds int `mapstructure:"lock_ttl_seconds" validate:"gte=1"`

	// DedupTTL bounds how long enqueue dedup anchors are remembered.
	DedupTTL time.Duration `mapstructure:"dedup_ttl" validate:"gte=0"`

	// Consumer tunes the queue consumer pool.
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

// LockTTL returns the resource lock TTL as a duration.
func (t *TransactionConfig) LockTTL() time.Duration {
	return time.Duration(t.LockTTLSeconds) * time.Second
}

// ConsumerConfig tunes the queue consumer pool.
type ConsumerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`

	// VisibilityTimeout is how long a fetched job stays invisible to
	// other consumers.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`

	// BlockTimeout is the blocking-pop timeout when the queue is idle.
	BlockTimeout time.Duration `mapstructure:"block_timeout" validate:"gt=0"`

	// JanitorInterval is how often stalled jobs are scanned for.
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"gt=0"`

	// MaxStalls is how many times a job may stall before failing.
	MaxStalls int `mapstructure:"max_stalls" validate:"gte=0"`
}

// JournalConfig configures the Badger-backed execution journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Path is the Badger data directory.
	Path string `mapstructure:"path"`

	// WriteMode is sync or async.
	WriteMode string `mapstructure:"write_mode" validate:"required,oneof=sync async"`

	// AsyncQueueSize buffers appends in async mode.
	AsyncQueueSize int `mapstructure:"async_queue_size" validate:"gte=0"`

	// Retention bounds how long settled-job history is kept. Zero
	// disables the retention sweeper.
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// NodeID identifies this process in event envelopes. Empty falls
	// back to the hostname at wiring time.
	NodeID string `mapstructure:"node_id"`

	// BufferSize is the per-subscriber channel depth.
	BufferSize int `mapstructure:"buffer_size" validate:"gte=1"`

	// Publish retry policy.
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gt=0"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" validate:"gte=1"`
}

// MetricsConfig holds observability configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path" validate:"required,startswith=/"`

	// Port is the metrics listen port.
	Port int `mapstructure:"port" validate:"required,gte=1,lte=65535"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlpgrpc).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Type is the legacy exporter field; it is normalized into Exporter
	// during validation.
	Type string `mapstructure:"type"`

	// Endpoint is the collector address.
	Endpoint string `mapstructure:"endpoint"`

	// SampleRate is the trace sampling ratio.
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `mapstructure:"insecure"`
}

// Validate normalizes legacy fields and checks the whole tree. It
// returns ValidationErrors so callers can print every problem at once.
func (c *Config) Validate() error {
	if err := c.normalize(); err != nil {
		return err
	}
	if err := ValidateWithDetails(c); err != nil {
		return err
	}
	return c.validateCrossFields()
}

func (c *Config) normalize() error {
	if c.Tracing.Exporter == "" && c.Tracing.Type != "" {
		switch c.Tracing.Type {
		case "jaeger", "otlp", "otlpgrpc":
			c.Tracing.Exporter = "otlpgrpc"
		default:
			return fmt.Errorf("unsupported tracing type: %s", c.Tracing.Type)
		}
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlpgrpc"
	}
	return nil
}

// validateCrossFields covers requirements the tag grammar cannot express.
func (c *Config) validateCrossFields() error {
	var details ValidationErrors
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		details = append(details, ConfigError{
			Field:   "tracing.endpoint",
			Message: "required when tracing is enabled",
			Value:   c.Tracing.Endpoint,
		})
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		details = append(details, ConfigError{
			Field:   "journal.path",
			Message: "required when the journal is enabled",
			Value:   c.Journal.Path,
		})
	}
	if len(details) > 0 {
		return details
	}
	return nil
}

// String renders a one-line summary safe for logs (no secrets).
func (c *Config) String() string {
	return fmt.Sprintf("%s env=%s http=%s grpc=%t redis=%s/%d queue=%s log=%s/%s",
		c.App.Name, c.App.Environment, c.Server.Address(), c.Server.GRPC.Enabled,
		c.Redis.Address, c.Redis.DB, c.Transaction.QueuePrefix, c.Log.Level, c.Log.Format)
}
