package fetcher

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chainfetch/internal/config"
	"chainfetch/internal/gate"
	"chainfetch/internal/retry"
	"chainfetch/internal/stats"
	"chainfetch/internal/transport"
)

// NewFromConfig builds the node client, gate, retry policy and stats
// recorder described by cfg and connects the WebSocket when configured.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Fetcher, error) {
	node := transport.NewNode(transport.Config{
		RPCURL:            cfg.RPCURL,
		WSURL:             cfg.WSURL,
		PreferWS:          cfg.PreferWS,
		RequestTimeout:    cfg.GetRequestTimeoutDuration(),
		MessageTimeout:    cfg.GetUpstreamMessageTimeoutDuration(),
		ReconnectInterval: cfg.GetUpstreamReconnectIntervalDuration(),
		Logger:            logger,
	})
	if err := node.Connect(ctx); err != nil {
		node.Close()
		return nil, errors.Wrap(err, "failed to connect node")
	}

	f := New(node, Options{
		Gate:   gate.New(GateConfig(cfg)),
		Retry:  RetryPolicy(cfg),
		Stats:  newRecorder(cfg.Stats),
		Logger: logger,
	})

	logger.Info().
		Str("node", node.Name()).
		Str("rpcUrl", cfg.RPCURL).
		Str("wsUrl", cfg.WSURL).
		Int("maxConcurrentRequests", cfg.MaxConcurrentRequests).
		Int("rateLimit", cfg.RateLimit.Requests).
		Bool("retryEnabled", cfg.Retry.Enabled).
		Str("stats", string(cfg.Stats.Backend)).
		Msg("fetcher ready")

	return f, nil
}

// GateConfig translates the admission settings of cfg
func GateConfig(cfg *config.Config) gate.Config {
	return gate.Config{
		MaxConcurrent: cfg.MaxConcurrentRequests,
		Rate: gate.Rate{
			Requests: cfg.RateLimit.Requests,
			Per:      cfg.RateLimit.GetPeriodDuration(),
			Burst:    cfg.RateLimit.Burst,
		},
	}
}

// RetryPolicy translates the retry settings of cfg; nil when retry is disabled
func RetryPolicy(cfg *config.Config) *retry.Policy {
	if !cfg.Retry.Enabled {
		return nil
	}
	p := &retry.Policy{
		InitialDelay: cfg.Retry.GetInitialDelayDuration(),
		Factor:       cfg.Retry.Factor,
		MaxDelay:     cfg.Retry.GetMaxDelayDuration(),
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Retryable:    transport.IsRetryable,
	}
	if cfg.Retry.RetryAll {
		p.Retryable = nil
	}
	return p
}

// newRecorder returns nil when stats are disabled
func newRecorder(cfg config.StatsConfig) stats.Recorder {
	switch cfg.Backend {
	case config.StatsMemory:
		return stats.NewMemory()
	case config.StatsRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return stats.NewRedis(rdb, stats.WithPrefix(cfg.RedisPrefix), stats.WithTTL(cfg.GetTTLDuration()))
	default:
		return nil
	}
}
