package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainfetch/internal/config"
	"chainfetch/internal/jsonrpc"
	"chainfetch/internal/stats"
	"chainfetch/internal/transport"
)

func TestRetryPolicy(t *testing.T) {
	cfg := &config.Config{Retry: config.RetryConfig{Enabled: false}}
	assert.Nil(t, RetryPolicy(cfg))

	cfg.Retry = config.RetryConfig{Enabled: true, MaxAttempts: 4, InitialDelayMs: 50, Factor: 3, MaxDelayMs: 400}
	p := RetryPolicy(cfg)
	require.NotNil(t, p)
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 400*time.Millisecond, p.MaxDelay)
	assert.NotNil(t, p.Retryable)

	cfg.Retry.RetryAll = true
	assert.Nil(t, RetryPolicy(cfg).Retryable)
}

func TestGateConfig(t *testing.T) {
	cfg := &config.Config{MaxConcurrentRequests: 3, RateLimit: config.RateLimitConfig{Requests: 10, PeriodMs: 1000, Burst: 2}}
	gc := GateConfig(cfg)
	assert.Equal(t, 3, gc.MaxConcurrent)
	assert.Equal(t, 10, gc.Rate.Requests)
	assert.Equal(t, time.Second, gc.Rate.Per)
	assert.Equal(t, 2, gc.Rate.Burst)
}

func TestNewFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result interface{}
		switch req.Method {
		case transport.MethodBlockNumber:
			result = "0xff"
		case transport.MethodChainID:
			result = "0xa"
		}
		resp, _ := jsonrpc.NewResponse(req.ID, result)
		out, _ := resp.Bytes()
		w.Write(out)
	}))
	defer srv.Close()

	cfg := &config.Config{
		RPCURL:                srv.URL,
		RequestTimeout:        1000,
		MaxConcurrentRequests: 2,
		Retry:                 config.RetryConfig{Enabled: true, MaxAttempts: 2, InitialDelayMs: 1, Factor: 2},
		Stats:                 config.StatsConfig{Backend: config.StatsMemory},
	}

	ctx := context.Background()
	f, err := NewFromConfig(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	head, err := f.GetBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(255), head)

	src, err := NewSource(ctx, f, SourceConfig{InnerRequestSize: 100, MaxConcurrentChunks: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), src.ChainID)

	memory, ok := f.Stats().(*stats.Memory)
	require.True(t, ok)
	f.Close()
	assert.Equal(t, int64(2), memory.Snapshot().Total.Calls)
}

func TestFetcher_NodeTimeoutIsRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	node := transport.NewNode(transport.Config{RPCURL: srv.URL, RequestTimeout: 20 * time.Millisecond, Logger: zerolog.Nop()})
	recorder := stats.NewMemory()
	f := New(node, Options{Retry: fastRetry(3), Stats: recorder, Logger: zerolog.Nop()})

	_, err := f.GetBlockNumber(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(3), hits.Load())

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, KindTransport, ferr.Kind)
	assert.Equal(t, 3, ferr.Attempts)
	assert.True(t, errors.Is(err, transport.ErrTimeout))

	f.Close()
	assert.Equal(t, int64(1), recorder.Snapshot().Total.ByKind[string(KindTransport)])
}
