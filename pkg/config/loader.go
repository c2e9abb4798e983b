package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from a file and environment variables.
// The prefix parameter is used for environment variable names (e.g., "CQSYNC" -> CQSYNC_REDIS_HOST).
// If configPath is empty, only environment variables will be used.
func Load(configPath, envPrefix string) (*Config, error) {
	v := viper.New()

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	// Zero values cannot express an enabled-by-default switch.
	v.SetDefault("search.breaker_enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvKeys registers the keys operators most often set from the
// environment, so they resolve even when no config file mentions them.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"service.name", "service.env",
		"redis.host", "redis.port", "redis.password",
		"queue.backend", "queue.concurrency", "queue.max_stalled",
		"search.url", "search.api_key", "search.strict",
		"database.host", "database.port", "database.database", "database.user", "database.password",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}
}

// MustLoad loads configuration and panics on error.
// This is useful in main() where configuration errors should be fatal.
func MustLoad(configPath, envPrefix string) *Config {
	cfg, err := Load(configPath, envPrefix)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration only from environment variables (no config file).
func LoadFromEnv(envPrefix string) (*Config, error) {
	return Load("", envPrefix)
}
