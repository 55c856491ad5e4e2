package config

import (
	"fmt"
	"time"

	"github.com/aescanero/grantflow/pkg/retry"
	"github.com/caarlos0/env/v10"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Event bus backends
const (
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config holds all configuration for grantflow
type Config struct {
	// Server configuration
	HTTPPort int    `env:"GRANTFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"GRANTFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage configuration
	Storage StorageConfig

	// Redis configuration
	Redis RedisConfig

	// Postgres configuration
	Postgres PostgresConfig

	// Events configuration
	Events EventsConfig

	// Retry policy for checkpoint stores and collaborators
	Retry RetryConfig

	// Executor limits
	Executor ExecutorConfig

	// LLM configuration
	LLM LLMConfig

	// Document source configuration
	Documents DocumentsConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// StorageConfig selects the checkpoint backend
type StorageConfig struct {
	Backend     string        `env:"STORAGE_BACKEND" envDefault:"redis"`
	PingTimeout time.Duration `env:"STORAGE_PING_TIMEOUT" envDefault:"5s"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Checkpoint retention; zero keeps checkpoints forever
	CheckpointTTL time.Duration `env:"REDIS_CHECKPOINT_TTL" envDefault:"0s"`
	KeyPrefix     string        `env:"REDIS_KEY_PREFIX" envDefault:"grantflow"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN             string        `env:"POSTGRES_DSN"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`
}

// EventsConfig selects the event bus
type EventsConfig struct {
	Backend       string `env:"EVENTS_BACKEND" envDefault:"redis"`
	ConsumerGroup string `env:"EVENTS_CONSUMER_GROUP" envDefault:"grantflow-workers"`
	ConsumerName  string `env:"EVENTS_CONSUMER_NAME"`
}

// RetryConfig holds the backoff policy
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"4"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"100ms"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"2s"`
}

// Policy converts the configuration into a retry policy
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// ExecutorConfig holds graph executor limits
type ExecutorConfig struct {
	RecursionLimit int           `env:"EXECUTOR_RECURSION_LIMIT" envDefault:"50"`
	NodeTimeout    time.Duration `env:"EXECUTOR_NODE_TIMEOUT" envDefault:"300s"`
	LockTTL        time.Duration `env:"EXECUTOR_LOCK_TTL" envDefault:"5m"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	Model    string `env:"LLM_MODEL" envDefault:"claude-sonnet-4-5"`
}

// DocumentsConfig holds the RFP document source configuration. Without a
// connection string only documents submitted inline can be loaded.
type DocumentsConfig struct {
	ConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING"`
	Container        string `env:"DOCUMENTS_CONTAINER" envDefault:"rfps"`
	Prefix           string `env:"DOCUMENTS_PREFIX"`
	MaxBytes         int64  `env:"DOCUMENTS_MAX_BYTES" envDefault:"8388608"`
	// Catalog overrides the embedded proposal section catalog
	Catalog string `env:"PROPOSAL_CATALOG"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"30m"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis, or postgres)", c.Storage.Backend)
	}

	switch c.Events.Backend {
	case EventsMemory:
	case EventsRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis event bus")
		}
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Executor.RecursionLimit < 1 {
		return fmt.Errorf("recursion limit must be at least 1")
	}
	if c.Executor.NodeTimeout <= 0 {
		return fmt.Errorf("node timeout must be positive")
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// LoadPostgres reads only the Postgres settings. Maintenance commands use it
// so they do not require the full server configuration.
func LoadPostgres() (*PostgresConfig, error) {
	cfg := &PostgresConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
