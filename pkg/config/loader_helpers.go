package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values in override leave base
// untouched unless the raw document sets the field explicitly.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Jobs.Concurrency != 0 {
		base.Jobs.Concurrency = override.Jobs.Concurrency
	}
	if override.Jobs.Repetitions != 0 {
		base.Jobs.Repetitions = override.Jobs.Repetitions
	}
	if override.Jobs.CallTimeout != 0 {
		base.Jobs.CallTimeout = override.Jobs.CallTimeout
	}

	if override.RetryPolicy.MaxAttempts != 0 {
		base.RetryPolicy.MaxAttempts = override.RetryPolicy.MaxAttempts
	}
	if override.RetryPolicy.InitialBackoff != 0 {
		base.RetryPolicy.InitialBackoff = override.RetryPolicy.InitialBackoff
	}
	if override.RetryPolicy.MaxBackoff != 0 {
		base.RetryPolicy.MaxBackoff = override.RetryPolicy.MaxBackoff
	}
	if override.RetryPolicy.Multiplier != 0 {
		base.RetryPolicy.Multiplier = override.RetryPolicy.Multiplier
	}

	if fieldSet(raw, "rate_limit", "requests_per_second") {
		base.RateLimit.RequestsPerSecond = override.RateLimit.RequestsPerSecond
	}
	if override.RateLimit.Burst != 0 {
		base.RateLimit.Burst = override.RateLimit.Burst
	}

	if strings.TrimSpace(override.Cache.Backend) != "" {
		base.Cache.Backend = strings.ToLower(strings.TrimSpace(override.Cache.Backend))
	}
	if override.Cache.DSN != "" {
		base.Cache.DSN = override.Cache.DSN
	}
	if override.Cache.Redis.Addr != "" {
		base.Cache.Redis.Addr = override.Cache.Redis.Addr
	}
	if override.Cache.Redis.Password != "" {
		base.Cache.Redis.Password = override.Cache.Redis.Password
	}
	if fieldSet(raw, "cache", "redis", "db") {
		base.Cache.Redis.DB = override.Cache.Redis.DB
	}
	if override.Cache.Redis.Prefix != "" {
		base.Cache.Redis.Prefix = override.Cache.Redis.Prefix
	}
	if override.Cache.Redis.TTL != 0 {
		base.Cache.Redis.TTL = override.Cache.Redis.TTL
	}
	if override.Cache.Mongo.URI != "" {
		base.Cache.Mongo.URI = override.Cache.Mongo.URI
	}
	if override.Cache.Mongo.Database != "" {
		base.Cache.Mongo.Database = override.Cache.Mongo.Database
	}
	if override.Cache.Mongo.Collection != "" {
		base.Cache.Mongo.Collection = override.Cache.Mongo.Collection
	}

	base.Providers.OpenAI = mergeProvider(base.Providers.OpenAI, override.Providers.OpenAI)
	base.Providers.Anthropic = mergeProvider(base.Providers.Anthropic, override.Providers.Anthropic)

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Telemetry.MetricsAddr != "" {
		base.Telemetry.MetricsAddr = override.Telemetry.MetricsAddr
	}
	if override.Telemetry.NATSURL != "" {
		base.Telemetry.NATSURL = override.Telemetry.NATSURL
	}
	if override.Telemetry.NATSSubject != "" {
		base.Telemetry.NATSSubject = override.Telemetry.NATSSubject
	}
	if fieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}
}

func mergeProvider(base, override ProviderSettings) ProviderSettings {
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	return base
}

func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
