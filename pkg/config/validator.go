package config

import (
	"fmt"
	"time"
)

// Default TTL policy, in the order list < entity < detail < static.
var defaultTTL = map[string]time.Duration{
	"list":   60 * time.Second,
	"search": 60 * time.Second,
	"entity": 600 * time.Second,
	"detail": 900 * time.Second,
	"static": 3600 * time.Second,
}

// Validate validates the configuration and returns an error if any required fields are missing
// or have invalid values.
func Validate(cfg *Config) error {
	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis.host is required")
	}
	if cfg.Redis.Port == 0 {
		return fmt.Errorf("redis.port is required")
	}
	if cfg.Redis.Session.DB == cfg.Redis.Cache.DB {
		return fmt.Errorf("redis.session.db must differ from redis.cache.db (got %d)", cfg.Redis.Session.DB)
	}
	if cfg.Redis.Cache.MaxRetries < 0 {
		return fmt.Errorf("redis.cache.max_retries must be non-negative: the request path fails fast")
	}

	if cfg.Cache.BreakerThreshold < 1 {
		return fmt.Errorf("cache.breaker_threshold must be at least 1")
	}
	for name, ttl := range cfg.Cache.TTL {
		if ttl < 0 {
			return fmt.Errorf("cache.ttl.%s must be non-negative", name)
		}
	}

	switch cfg.Queue.Backend {
	case "redis":
	case "jetstream":
		if len(cfg.Queue.Servers) == 0 {
			return fmt.Errorf("queue.servers is required when queue.backend is jetstream")
		}
	default:
		return fmt.Errorf("queue.backend must be redis or jetstream, got %q", cfg.Queue.Backend)
	}
	if cfg.Queue.Attempts < 1 {
		return fmt.Errorf("queue.attempts must be at least 1")
	}
	if cfg.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	if cfg.Queue.MaxStalled < 1 {
		return fmt.Errorf("queue.max_stalled must be at least 1")
	}
	if cfg.Queue.StalledInterval > cfg.Queue.LockDuration {
		return fmt.Errorf("queue.stalled_interval (%v) must not exceed queue.lock_duration (%v)",
			cfg.Queue.StalledInterval, cfg.Queue.LockDuration)
	}

	if cfg.Search.Strict && !cfg.Search.Enabled() {
		return fmt.Errorf("search.url is required when search.strict is set")
	}

	if cfg.Database.Host != "" {
		if cfg.Database.User == "" {
			return fmt.Errorf("database.user is required when database.host is set")
		}
		if cfg.Database.Database == "" {
			return fmt.Errorf("database.database is required when database.host is set")
		}
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port is required when metrics are enabled")
	}

	return nil
}

// applyDefaults applies default values to the configuration where values are not set.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "cqsync"
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "development"
	}

	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	applyRedisDefaults(&cfg.Redis)

	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "cache:"
	}
	ttl := make(map[string]time.Duration, len(defaultTTL))
	for name, d := range defaultTTL {
		ttl[name] = d
	}
	for name, d := range cfg.Cache.TTL {
		ttl[name] = d
	}
	cfg.Cache.TTL = ttl
	if cfg.Cache.BreakerThreshold == 0 {
		cfg.Cache.BreakerThreshold = 5
	}
	if cfg.Cache.BreakerResetTimeout == 0 {
		cfg.Cache.BreakerResetTimeout = 60 * time.Second
	}

	if cfg.Queue.Backend == "" {
		if len(cfg.Queue.Servers) > 0 {
			cfg.Queue.Backend = "jetstream"
		} else {
			cfg.Queue.Backend = "redis"
		}
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "search-sync"
	}
	if cfg.Queue.Attempts == 0 {
		cfg.Queue.Attempts = 3
	}
	if cfg.Queue.Backoff == 0 {
		cfg.Queue.Backoff = time.Second
	}
	if cfg.Queue.FailedLimit == 0 {
		cfg.Queue.FailedLimit = 500
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 5
	}
	if cfg.Queue.MaxStalled == 0 {
		cfg.Queue.MaxStalled = 1
	}
	if cfg.Queue.LockDuration == 0 {
		cfg.Queue.LockDuration = 30 * time.Second
	}
	if cfg.Queue.StalledInterval == 0 {
		cfg.Queue.StalledInterval = 30 * time.Second
	}
	if cfg.Queue.PollTimeout == 0 {
		cfg.Queue.PollTimeout = time.Second
	}
	if cfg.Queue.StreamName == "" && cfg.Queue.Backend == "jetstream" {
		cfg.Queue.StreamName = "CQSYNC_JOBS"
	}

	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 10 * time.Second
	}
	if cfg.Search.RetryCount == 0 {
		cfg.Search.RetryCount = 2
	}
	if cfg.Search.BreakerThreshold == 0 {
		cfg.Search.BreakerThreshold = 5
	}
	if cfg.Search.BreakerTimeout == 0 {
		cfg.Search.BreakerTimeout = 60 * time.Second
	}

	if cfg.Database.Port == 0 && cfg.Database.Host != "" {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 1
	}
	if cfg.Database.MaxConnLifetime == 0 {
		cfg.Database.MaxConnLifetime = time.Hour
	}
	if cfg.Database.MaxConnIdleTime == 0 {
		cfg.Database.MaxConnIdleTime = 10 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "prefer"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Metrics.Port == 0 && cfg.Metrics.Enabled {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = cfg.Service.Name
	}

	if cfg.Tracing.SampleRate == 0 && cfg.Tracing.Enabled {
		cfg.Tracing.SampleRate = 0.1
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Service.Name
	}
	if cfg.Tracing.ExportMode == "" {
		cfg.Tracing.ExportMode = "grpc"
	}
	if cfg.Tracing.BatchTimeout == 0 {
		cfg.Tracing.BatchTimeout = 5 * time.Second
	}
}

// applyRedisDefaults fills the three connection profiles. Each profile
// trades availability differently: the request path fails fast, the worker
// path never gives up, and the session path sits in between.
func applyRedisDefaults(r *RedisConfig) {
	if r.Host == "" {
		r.Host = "localhost"
	}
	if r.Port == 0 {
		r.Port = 6379
	}

	if r.Cache.MaxRetries == 0 {
		r.Cache.MaxRetries = 3
	}
	if r.Cache.DialTimeout == 0 {
		r.Cache.DialTimeout = 2 * time.Second
	}
	if r.Cache.ReadTimeout == 0 {
		r.Cache.ReadTimeout = time.Second
	}
	if r.Cache.WriteTimeout == 0 {
		r.Cache.WriteTimeout = time.Second
	}
	if r.Cache.PoolSize == 0 {
		r.Cache.PoolSize = 10
	}

	if r.Background.MaxRetries == 0 {
		r.Background.MaxRetries = -1
	}
	if r.Background.DialTimeout == 0 {
		r.Background.DialTimeout = 5 * time.Second
	}
	if r.Background.ReadTimeout == 0 {
		r.Background.ReadTimeout = 5 * time.Second
	}
	if r.Background.WriteTimeout == 0 {
		r.Background.WriteTimeout = 5 * time.Second
	}
	if r.Background.PoolSize == 0 {
		r.Background.PoolSize = 10
	}

	if r.Session.DB == 0 {
		r.Session.DB = 1
	}
	if r.Session.MaxRetries == 0 {
		r.Session.MaxRetries = 5
	}
	if r.Session.DialTimeout == 0 {
		r.Session.DialTimeout = 3 * time.Second
	}
	if r.Session.ReadTimeout == 0 {
		r.Session.ReadTimeout = 3 * time.Second
	}
	if r.Session.WriteTimeout == 0 {
		r.Session.WriteTimeout = 3 * time.Second
	}
	if r.Session.PoolSize == 0 {
		r.Session.PoolSize = 5
	}
}
