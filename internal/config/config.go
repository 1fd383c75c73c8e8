package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. CHAINFETCH_RPCURL
// or CHAINFETCH_RETRY_MAXATTEMPTS
const EnvPrefix = "CHAINFETCH"

// New returns a Viper instance with defaults and environment binding set up.
// Callers may bind flags to it before calling LoadWithViper.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every configuration key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rpcUrl", "")
	v.SetDefault("wsUrl", "")
	v.SetDefault("preferWs", false)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("requestTimeout", DefaultRequestTimeout)
	v.SetDefault("upstreamMessageTimeout", DefaultUpstreamMessageTimeout)
	v.SetDefault("upstreamReconnectInterval", DefaultUpstreamReconnectInterval)
	v.SetDefault("chainId", 0)
	v.SetDefault("verifyChainId", false)
	v.SetDefault("maxConcurrentRequests", DefaultMaxConcurrentRequests)

	v.SetDefault("rateLimit.requests", 0)
	v.SetDefault("rateLimit.periodMs", DefaultRateLimitPeriod)
	v.SetDefault("rateLimit.burst", 0)

	v.SetDefault("retry.enabled", DefaultRetryEnabled)
	v.SetDefault("retry.maxAttempts", DefaultRetryMaxAttempts)
	v.SetDefault("retry.initialDelayMs", DefaultRetryInitialDelay)
	v.SetDefault("retry.factor", DefaultRetryFactor)
	v.SetDefault("retry.maxDelayMs", 0)
	v.SetDefault("retry.retryAll", false)

	v.SetDefault("innerRequestSize", DefaultInnerRequestSize)
	v.SetDefault("maxConcurrentChunks", DefaultMaxConcurrentChunks)

	v.SetDefault("stats.backend", string(DefaultStatsBackend))
	v.SetDefault("stats.redisAddr", "")
	v.SetDefault("stats.redisPrefix", DefaultStatsRedisPrefix)
	v.SetDefault("stats.ttlSeconds", DefaultStatsTTL)
}

// Load reads the configuration file at path (JSON, YAML or TOML by
// extension) merged over defaults and environment overrides.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// ReadFile merges the configuration file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// LoadWithViper unmarshals, completes and validates the configuration held by v
func LoadWithViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}

// applyDefaults sets default values for fields explicitly zeroed where zero is not meaningful
func applyDefaults(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.UpstreamMessageTimeout == 0 {
		cfg.UpstreamMessageTimeout = DefaultUpstreamMessageTimeout
	}
	if cfg.UpstreamReconnectInterval == 0 {
		cfg.UpstreamReconnectInterval = DefaultUpstreamReconnectInterval
	}
	if cfg.RateLimit.PeriodMs == 0 {
		cfg.RateLimit.PeriodMs = DefaultRateLimitPeriod
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = DefaultRetryFactor
	}
	if cfg.InnerRequestSize == 0 {
		cfg.InnerRequestSize = DefaultInnerRequestSize
	}
	if cfg.MaxConcurrentChunks == 0 {
		cfg.MaxConcurrentChunks = DefaultMaxConcurrentChunks
	}
	cfg.Stats.Backend = StatsBackend(strings.ToLower(string(cfg.Stats.Backend)))
	if cfg.Stats.Backend == "" {
		cfg.Stats.Backend = DefaultStatsBackend
	}
	if cfg.Stats.RedisPrefix == "" {
		cfg.Stats.RedisPrefix = DefaultStatsRedisPrefix
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.RPCURL == "" && cfg.WSURL == "" {
		return errors.New("at least one of rpcUrl or wsUrl is required")
	}

	if cfg.PreferWS && cfg.WSURL == "" {
		return errors.New("preferWs requires wsUrl")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return errors.New("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RequestTimeout < 0 {
		return errors.New("requestTimeout must be non-negative")
	}

	if cfg.MaxConcurrentRequests < 0 {
		return errors.New("maxConcurrentRequests must be non-negative")
	}

	if cfg.RateLimit.Requests < 0 {
		return errors.New("rateLimit.requests must be non-negative")
	}
	if cfg.RateLimit.PeriodMs < 0 {
		return errors.New("rateLimit.periodMs must be non-negative")
	}
	if cfg.RateLimit.Burst < 0 {
		return errors.New("rateLimit.burst must be non-negative")
	}

	if cfg.Retry.MaxAttempts < 0 {
		return errors.New("retry.maxAttempts must be non-negative")
	}
	if cfg.Retry.InitialDelayMs < 0 || cfg.Retry.MaxDelayMs < 0 {
		return errors.New("retry delays must be non-negative")
	}
	if cfg.Retry.Factor < 1 {
		return errors.Newf("retry.factor must be at least 1, got %v", cfg.Retry.Factor)
	}

	switch cfg.Stats.Backend {
	case StatsNone, StatsMemory:
	case StatsRedis:
		if cfg.Stats.RedisAddr == "" {
			return errors.New("stats.redisAddr is required for the redis backend")
		}
	default:
		return errors.Newf("stats.backend must be one of: none, memory, redis (got %q)", cfg.Stats.Backend)
	}
	if cfg.Stats.TTLSeconds < 0 {
		return errors.New("stats.ttlSeconds must be non-negative")
	}

	return nil
}
