package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultTier is used when a caller's tier has no configured limits.
const DefaultTier = "free"

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Tiers == nil {
		cfg.Tiers = make(map[string]TierConfig)
	}
	if _, ok := cfg.Tiers[DefaultTier]; !ok {
		cfg.Tiers[DefaultTier] = TierConfig{Concurrency: 1, InterTaskDelay: Duration(time.Second)}
	}
	for name, tier := range cfg.Tiers {
		if tier.Concurrency < 1 {
			tier.Concurrency = 1
		}
		if tier.InterTaskDelay < 0 {
			tier.InterTaskDelay = 0
		}
		cfg.Tiers[name] = tier
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Type == "" {
			cfg.Providers[i].Type = "http"
		}
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = Duration(30 * time.Second)
		}
	}

	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 5
	}
	if cfg.Health.CoolDown == 0 {
		cfg.Health.CoolDown = Duration(5 * time.Minute)
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = Duration(time.Second)
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = Duration(30 * time.Second)
	}
	if cfg.Retry.BackoffMultiple == 0 {
		cfg.Retry.BackoffMultiple = 2.0
	}

	if cfg.Lock.Store == "" {
		cfg.Lock.Store = "memory"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = Duration(10 * time.Minute)
	}
}

func validate(cfg *AppConfig) error {
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}

	if cfg.Lock.Store != "memory" && cfg.Lock.Store != "redis" {
		return fmt.Errorf("lock store %q: must be \"memory\" or \"redis\"", cfg.Lock.Store)
	}
	if cfg.Lock.Store == "redis" && cfg.Redis.URL == "" {
		return fmt.Errorf("lock store is redis but redis.url is not set")
	}

	return nil
}
