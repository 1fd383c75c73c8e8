package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores counters in hashes:
//
//	<prefix>:total             calls / failed / attempts
//	<prefix>:method            <method>:calls, <method>:failed, <method>:attempts
//	<prefix>:minute:<yyyymmddhhmm>  per-minute calls / failed, expiring after ttl
//
// The total and per-method hashes are cumulative and never expire.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis recorder
type RedisOption func(*Redis)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

// WithTTL sets the lifetime of per-minute buckets; 0 keeps them forever
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// NewRedis creates a recorder on top of rdb. A nil client records nothing.
func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "chainfetch:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Keys returns the total, per-method and per-minute bucket keys for t
func (r *Redis) Keys(t time.Time) (total, method, bucket string) {
	return r.prefix + ":total",
		r.prefix + ":method",
		fmt.Sprintf("%s:minute:%s", r.prefix, t.UTC().Format("200601021504"))
}

func (r *Redis) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	totalKey, methodKey, bucketKey := r.Keys(at)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, "calls", 1)
	pipe.HIncrBy(ctx, totalKey, "attempts", int64(ev.Attempts))
	pipe.HIncrBy(ctx, bucketKey, "calls", 1)
	if ev.Method != "" {
		pipe.HIncrBy(ctx, methodKey, ev.Method+":calls", 1)
		pipe.HIncrBy(ctx, methodKey, ev.Method+":attempts", int64(ev.Attempts))
	}

	if !ev.OK {
		pipe.HIncrBy(ctx, totalKey, "failed", 1)
		pipe.HIncrBy(ctx, bucketKey, "failed", 1)
		if ev.Kind != "" {
			pipe.HIncrBy(ctx, totalKey, "failed:"+ev.Kind, 1)
		}
		if ev.Method != "" {
			pipe.HIncrBy(ctx, methodKey, ev.Method+":failed", 1)
		}
	}

	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the underlying client
func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
