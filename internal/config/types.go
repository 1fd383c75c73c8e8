package config

import "time"

// StatsBackend selects where call outcomes are recorded
type StatsBackend string

const (
	StatsNone   StatsBackend = "none"
	StatsMemory StatsBackend = "memory"
	StatsRedis  StatsBackend = "redis"
)

// Config represents the main configuration structure
type Config struct {
	RPCURL                    string          `mapstructure:"rpcUrl" json:"rpcUrl"`
	WSURL                     string          `mapstructure:"wsUrl" json:"wsUrl"`
	PreferWS                  bool            `mapstructure:"preferWs" json:"preferWs"`
	LogLevel                  string          `mapstructure:"logLevel" json:"logLevel"`
	RequestTimeout            int             `mapstructure:"requestTimeout" json:"requestTimeout"`                       // ms
	UpstreamMessageTimeout    int             `mapstructure:"upstreamMessageTimeout" json:"upstreamMessageTimeout"`       // ms - timeout for receiving messages from the node WebSocket
	UpstreamReconnectInterval int             `mapstructure:"upstreamReconnectInterval" json:"upstreamReconnectInterval"` // ms - interval between reconnection attempts
	ChainID                   uint64          `mapstructure:"chainId" json:"chainId"`
	VerifyChainID             bool            `mapstructure:"verifyChainId" json:"verifyChainId"`
	MaxConcurrentRequests     int             `mapstructure:"maxConcurrentRequests" json:"maxConcurrentRequests"` // 0 means unlimited
	RateLimit                 RateLimitConfig `mapstructure:"rateLimit" json:"rateLimit"`
	Retry                     RetryConfig     `mapstructure:"retry" json:"retry"`
	InnerRequestSize          uint64          `mapstructure:"innerRequestSize" json:"innerRequestSize"`
	MaxConcurrentChunks       uint64          `mapstructure:"maxConcurrentChunks" json:"maxConcurrentChunks"`
	Stats                     StatsConfig     `mapstructure:"stats" json:"stats"`
}

// RateLimitConfig limits admissions to Requests per PeriodMs
type RateLimitConfig struct {
	Requests int `mapstructure:"requests" json:"requests"` // 0 disables rate limiting
	PeriodMs int `mapstructure:"periodMs" json:"periodMs"`
	Burst    int `mapstructure:"burst" json:"burst"`
}

// RetryConfig represents retry configuration
type RetryConfig struct {
	Enabled        bool    `mapstructure:"enabled" json:"enabled"`
	MaxAttempts    int     `mapstructure:"maxAttempts" json:"maxAttempts"`
	InitialDelayMs int     `mapstructure:"initialDelayMs" json:"initialDelayMs"`
	Factor         float64 `mapstructure:"factor" json:"factor"`
	MaxDelayMs     int     `mapstructure:"maxDelayMs" json:"maxDelayMs"` // 0 means uncapped
	// RetryAll retries every failure except cancellation instead of only transient ones
	RetryAll bool `mapstructure:"retryAll" json:"retryAll"`
}

// StatsConfig represents call statistics configuration
type StatsConfig struct {
	Backend     StatsBackend `mapstructure:"backend" json:"backend"`
	RedisAddr   string       `mapstructure:"redisAddr" json:"redisAddr"`
	RedisPrefix string       `mapstructure:"redisPrefix" json:"redisPrefix"`
	TTLSeconds  int          `mapstructure:"ttlSeconds" json:"ttlSeconds"`
}

// Default values
const (
	DefaultLogLevel                  = "info"
	DefaultRequestTimeout            = 5000  // ms
	DefaultUpstreamMessageTimeout    = 60000 // ms
	DefaultUpstreamReconnectInterval = 5000  // ms
	DefaultMaxConcurrentRequests     = 0
	DefaultRateLimitPeriod           = 1000 // ms
	DefaultRetryEnabled              = true
	DefaultRetryMaxAttempts          = 3
	DefaultRetryInitialDelay         = 500 // ms
	DefaultRetryFactor               = 2.0
	DefaultInnerRequestSize          = uint64(1000)
	DefaultMaxConcurrentChunks       = uint64(4)
	DefaultStatsBackend              = StatsNone
	DefaultStatsRedisPrefix          = "chainfetch:stats"
	DefaultStatsTTL                  = 86400 // seconds
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetUpstreamMessageTimeoutDuration returns the WebSocket message timeout as time.Duration
func (c *Config) GetUpstreamMessageTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamMessageTimeout) * time.Millisecond
}

// GetUpstreamReconnectIntervalDuration returns the WebSocket reconnect interval as time.Duration
func (c *Config) GetUpstreamReconnectIntervalDuration() time.Duration {
	return time.Duration(c.UpstreamReconnectInterval) * time.Millisecond
}

// GetPeriodDuration returns the rate limit window as time.Duration
func (c *RateLimitConfig) GetPeriodDuration() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

// GetInitialDelayDuration returns the first backoff delay as time.Duration
func (c *RetryConfig) GetInitialDelayDuration() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// GetMaxDelayDuration returns the backoff cap as time.Duration
func (c *RetryConfig) GetMaxDelayDuration() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// GetTTLDuration returns the per-minute bucket lifetime as time.Duration
func (c *StatsConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
