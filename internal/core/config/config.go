package config

import (
	redisclient "github.com/validly/dispatchd/internal/infra/redis"
	"github.com/validly/dispatchd/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig          `yaml:"server"`
	Logging    LoggingConfig         `yaml:"logging"`
	Tiers      map[string]TierConfig `yaml:"tiers"`
	Providers  []ProviderConfig      `yaml:"providers"`
	Identities []IdentityConfig      `yaml:"identities"`
	Health     HealthConfig          `yaml:"health"`
	Retry      RetryConfig           `yaml:"retry"`
	Lock       LockConfig            `yaml:"lock"`
	Redis      redisclient.Config    `yaml:"redis"`
	Database   postgres.Config       `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TierConfig holds the concurrency and pacing limits for one tier.
type TierConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	InterTaskDelay Duration `yaml:"inter_task_delay"`
}

// ProviderConfig holds settings for one validation provider.
type ProviderConfig struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"` // adapter type, e.g. "http"
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// IdentityConfig is one fingerprint/proxy pair in the rotation pool.
type IdentityConfig struct {
	Fingerprint string `yaml:"fingerprint"`
	Proxy       string `yaml:"proxy"`
}

// HealthConfig controls the provider circuit breaker.
type HealthConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	CoolDown         Duration `yaml:"cool_down"`
}

// RetryConfig controls transient-failure retries per work item.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialDelay    Duration `yaml:"initial_delay"`
	MaxDelay        Duration `yaml:"max_delay"`
	BackoffMultiple float64  `yaml:"backoff_multiple"`
}

// LockConfig controls the per-user operation lock.
type LockConfig struct {
	Store string   `yaml:"store"` // "memory" or "redis"
	TTL   Duration `yaml:"ttl"`
}
