package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default configuration values exported for documentation and validation
const (
	DefaultConcurrency       = 4
	DefaultRepetitions       = 1
	DefaultCallTimeout       = 60 * time.Second
	DefaultMaxAttempts       = 4
	DefaultInitialBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff        = 20 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultRequestsPerSecond = 8.0
	DefaultBurst             = 8
	DefaultCacheBackend      = CacheBackendMemory
	DefaultNATSSubject       = "edsl.events"
	DefaultMongoDatabase     = "edsl"
	DefaultMongoCollection   = "cache"
	DefaultRedisPrefix       = "edsl:cache:"
)

// Cache backends accepted by cache.backend.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
	CacheBackendMongo  = "mongo"
)

// Config represents the complete engine configuration
type Config struct {
	Jobs        JobsConfig      `yaml:"jobs"`
	RetryPolicy RetryPolicy     `yaml:"retry_policy"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Cache       CacheConfig     `yaml:"cache"`
	Providers   ProviderConfig  `yaml:"providers"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// JobsConfig controls the job scheduler.
type JobsConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Repetitions int           `yaml:"repetitions"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RetryPolicy defines retry behavior for transient model errors.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// RateLimitConfig bounds outbound model calls across the whole job.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables the limiter
	Burst             int     `yaml:"burst"`
}

// CacheConfig selects the persisted cache store.
type CacheConfig struct {
	Backend string      `yaml:"backend"` // memory, sqlite, redis, mongo
	DSN     string      `yaml:"dsn"`     // sqlite path or DSN
	Redis   RedisConfig `yaml:"redis"`
	Mongo   MongoConfig `yaml:"mongo"`
}

// RedisConfig configures the redis cache store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"` // 0 keeps entries forever
}

// MongoConfig configures the mongo cache store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// ProviderConfig defines provider settings and API keys
type ProviderConfig struct {
	OpenAI    ProviderSettings `yaml:"openai"`
	Anthropic ProviderSettings `yaml:"anthropic"`
}

// ProviderSettings contains settings for a specific provider
type ProviderSettings struct {
	APIKey  string `yaml:"api_key"`  // Can be set here or via env var
	BaseURL string `yaml:"base_url"` // Optional custom base URL
}

// Ready reports whether the provider has credentials.
func (p ProviderSettings) Ready() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// LoggingConfig controls the JSONL job log.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// TelemetryConfig controls metrics, tracing and event forwarding.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	Tracing     bool   `yaml:"tracing"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Jobs: JobsConfig{
			Concurrency: DefaultConcurrency,
			Repetitions: DefaultRepetitions,
			CallTimeout: DefaultCallTimeout,
		},
		RetryPolicy: RetryPolicy{
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
			Multiplier:     DefaultBackoffMultiplier,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
		Cache: CacheConfig{
			Backend: DefaultCacheBackend,
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: DefaultRedisPrefix,
			},
			Mongo: MongoConfig{
				Database:   DefaultMongoDatabase,
				Collection: DefaultMongoCollection,
			},
		},
		Logging: LoggingConfig{
			Dir:   defaultLogDir(),
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			NATSSubject: DefaultNATSSubject,
		},
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".edsl", "logs")
	}
	return filepath.Join(home, ".edsl", "logs")
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".edsl", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".edsl", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("EDSL_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Jobs.Concurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EDSL_CALL_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Jobs.CallTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("EDSL_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryPolicy.MaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EDSL_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimit.RequestsPerSecond = f
		}
	}

	if v := os.Getenv("EDSL_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("EDSL_CACHE_DSN"); v != "" {
		cfg.Cache.DSN = v
	}
	if v := os.Getenv("EDSL_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("EDSL_MONGO_URI"); v != "" {
		cfg.Cache.Mongo.URI = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Providers.OpenAI.BaseURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
		cfg.Providers.Anthropic.BaseURL = v
	}

	if v := os.Getenv("EDSL_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("EDSL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("EDSL_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("EDSL_NATS_URL"); v != "" {
		cfg.Telemetry.NATSURL = v
	}
	if val, ok := envBool("EDSL_TRACING"); ok {
		cfg.Telemetry.Tracing = val
	}
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg)
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be positive, got %d", c.Jobs.Concurrency)
	}
	if c.Jobs.Repetitions <= 0 {
		return fmt.Errorf("jobs.repetitions must be positive, got %d", c.Jobs.Repetitions)
	}
	if c.Jobs.CallTimeout <= 0 {
		return fmt.Errorf("jobs.call_timeout must be positive")
	}

	if c.RetryPolicy.MaxAttempts <= 0 {
		return fmt.Errorf("retry_policy.max_attempts must be at least 1")
	}
	if c.RetryPolicy.Multiplier < 1 {
		return fmt.Errorf("retry_policy.multiplier must be >= 1, got %g", c.RetryPolicy.Multiplier)
	}
	if c.RetryPolicy.MaxBackoff > 0 && c.RetryPolicy.InitialBackoff > c.RetryPolicy.MaxBackoff {
		return fmt.Errorf("retry_policy.initial_backoff exceeds max_backoff")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second cannot be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case "", CacheBackendMemory:
	case CacheBackendSQLite:
		if strings.TrimSpace(c.Cache.DSN) == "" {
			return fmt.Errorf("cache.dsn is required for the sqlite backend")
		}
	case CacheBackendRedis:
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	case CacheBackendMongo:
		if strings.TrimSpace(c.Cache.Mongo.URI) == "" {
			return fmt.Errorf("cache.mongo.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (valid: memory, sqlite, redis, mongo)", c.Cache.Backend)
	}

	return nil
}
