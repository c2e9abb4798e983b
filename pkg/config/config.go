// Package config provides configuration management for the cqsync cache and
// search-synchronization substrate. It supports loading configuration from
// YAML files, JSON files, and environment variables with automatic
// validation and default value application.
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml", "CQSYNC")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Or panic on error:
//	cfg := config.MustLoad("config.yaml", "CQSYNC")
package config

import (
	"fmt"
	"time"
)

// Config represents the complete configuration for a cqsync process.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Search   SearchConfig   `mapstructure:"search"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServiceConfig contains general service information.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"` // development, staging, production
}

// ServerConfig configures the operational HTTP listener (health probes).
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig describes the backing key-value store and the three
// independently tuned connection profiles opened against it.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`

	// Cache is the fast-fail request-path profile guarded by the circuit breaker.
	Cache RedisPoolConfig `mapstructure:"cache"`

	// Background is the worker profile. It never gives up reconnecting.
	Background RedisPoolConfig `mapstructure:"background"`

	// Session is the auth profile. It lives in its own logical DB.
	Session RedisPoolConfig `mapstructure:"session"`
}

// Addr returns the host:port address of the backing store.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RedisPoolConfig holds the retry and timeout profile of one connection.
type RedisPoolConfig struct {
	DB int `mapstructure:"db"`

	// MaxRetries is the per-command retry budget. A negative value means
	// unlimited: the client does not retry internally and the caller's loop
	// keeps retrying with backoff until its context ends.
	MaxRetries int `mapstructure:"max_retries"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`

	// PingOnStart makes the pool fail construction when the store is unreachable.
	PingOnStart bool `mapstructure:"ping_on_start"`
}

// CacheConfig contains request-path cache configuration.
type CacheConfig struct {
	// Prefix namespaces cache entries, tag sets and revision counters.
	Prefix string `mapstructure:"prefix"`

	// TTL overrides entries of the TTL policy table keyed by resource name.
	TTL map[string]time.Duration `mapstructure:"ttl"`

	// BreakerThreshold is the number of consecutive store failures that opens the breaker.
	BreakerThreshold int `mapstructure:"breaker_threshold"`

	// BreakerResetTimeout is how long the breaker stays open before allowing a probe.
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
}

// QueueConfig contains the index-sync job queue configuration.
type QueueConfig struct {
	Backend string `mapstructure:"backend"` // "redis" or "jetstream"
	Name    string `mapstructure:"name"`

	Attempts    int           `mapstructure:"attempts"`     // total attempts per job
	Backoff     time.Duration `mapstructure:"backoff"`      // first retry delay, doubled per attempt
	FailedLimit int           `mapstructure:"failed_limit"` // failed jobs retained for inspection
	Concurrency int           `mapstructure:"concurrency"`  // concurrent consumers
	MaxStalled  int           `mapstructure:"max_stalled"`  // lease lapses tolerated before a job fails

	LockDuration    time.Duration `mapstructure:"lock_duration"`    // lease on a reserved job
	StalledInterval time.Duration `mapstructure:"stalled_interval"` // how often expired leases are swept
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`     // blocking reserve timeout

	Servers    []string `mapstructure:"servers"`     // NATS servers (jetstream backend)
	StreamName string   `mapstructure:"stream_name"` // JetStream stream name
}

// SearchConfig contains search engine configuration.
type SearchConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`

	// Strict turns index provisioning failures into startup failures.
	Strict bool `mapstructure:"strict"`

	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`

	BreakerEnabled   bool          `mapstructure:"breaker_enabled"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// Enabled reports whether a search engine is configured.
func (s SearchConfig) Enabled() bool {
	return s.URL != ""
}

// HTTPClient returns the transport settings of the search engine client.
func (s SearchConfig) HTTPClient() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:                        s.URL,
		Timeout:                        s.Timeout,
		RetryCount:                     s.RetryCount,
		CircuitBreakerEnabled:          s.BreakerEnabled,
		CircuitBreakerTimeout:          s.BreakerTimeout,
		CircuitBreakerFailureThreshold: s.BreakerThreshold,
	}
}

// HTTPClientConfig contains outbound HTTP client configuration. It is not
// loaded directly; components derive it from their own section.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// RetryCount is the number of retries after the first attempt. A
	// negative value disables retries.
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int

	CircuitBreakerEnabled          bool
	CircuitBreakerTimeout          time.Duration
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DatabaseConfig contains PostgreSQL connection configuration for the
// system of record.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"` // disable, require, verify-ca, verify-full
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig contains structured logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"` // Metric prefix
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`      // OTLP endpoint (e.g., "localhost:4317")
	SampleRate   float64       `mapstructure:"sample_rate"`   // 0.0 to 1.0
	ServiceName  string        `mapstructure:"service_name"`  // Override service name for traces
	ExportMode   string        `mapstructure:"export_mode"`   // "grpc" or "http"
	Insecure     bool          `mapstructure:"insecure"`      // Use insecure connection
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // Batch export timeout
}
