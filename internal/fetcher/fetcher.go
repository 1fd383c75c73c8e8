// Package fetcher performs node calls for the collection pipeline. Every
// operation passes the admission gate, runs under the retry policy, and
// reports failures as a single *Error type.
package fetcher

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chainfetch/internal/blockparam"
	"chainfetch/internal/eth"
	"chainfetch/internal/gate"
	"chainfetch/internal/retry"
	"chainfetch/internal/stats"
	"chainfetch/internal/transport"
)

// Options configure a Fetcher. Every field is optional.
type Options struct {
	// Gate bounds concurrency and rate; nil admits every call immediately
	Gate *gate.Gate
	// Retry is the retry policy; nil performs every call once
	Retry *retry.Policy
	// Stats receives one event per call; nil discards them. Events are
	// written by a background goroutine and are complete once Close returns.
	Stats stats.Recorder
	// StatsBuffer is the number of queued events before new ones are dropped;
	// 0 uses stats.DefaultAsyncBuffer
	StatsBuffer int
	Logger      zerolog.Logger
}

// Fetcher is safe for concurrent use and is shared by pointer
type Fetcher struct {
	client transport.Client
	gate   *gate.Gate
	retry  *retry.Policy
	stats  stats.Recorder
	// events is the non-blocking front of stats
	events    stats.Recorder
	logger    zerolog.Logger
	closeOnce sync.Once
}

// New creates a Fetcher that owns client
func New(client transport.Client, opts Options) *Fetcher {
	logger := opts.Logger.With().Str("component", "fetcher").Logger()
	f := &Fetcher{
		client: client,
		gate:   opts.Gate,
		retry:  opts.Retry,
		stats:  opts.Stats,
		events: stats.Nop{},
		logger: logger,
	}
	if f.stats == nil {
		f.stats = stats.Nop{}
	} else {
		f.events = stats.NewAsync(f.stats, opts.StatsBuffer, logger)
	}
	return f
}

// Stats returns the recorder the fetcher reports to
func (f *Fetcher) Stats() stats.Recorder {
	return f.stats
}

// Close stops admitting calls, closes the node connection, flushes pending
// stats events and closes the stats recorder. Later calls are no-ops.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		f.gate.Close()
		f.client.Close()
		if c, ok := f.events.(io.Closer); ok {
			if err := c.Close(); err != nil {
				f.logger.Debug().Err(err).Msg("failed to close stats recorder")
			}
		}
	})
}

// execute runs one logical call: admission, retried action, stats.
// The permit is held across every attempt and backoff delay.
func execute[T any](ctx context.Context, f *Fetcher, op string, action func(context.Context) (T, error)) (T, error) {
	start := time.Now()

	permit, err := f.gate.Acquire(ctx)
	if err != nil {
		var zero T
		ferr := newError(op, 0, err)
		f.record(ctx, op, 0, start, ferr)
		return zero, ferr
	}

	value, attempts, err := retry.Do(ctx, f.retry, f.logger, op, action)
	permit.Release()

	if err != nil {
		var zero T
		ferr := newError(op, attempts, err)
		f.record(ctx, op, attempts, start, ferr)
		return zero, ferr
	}

	f.record(ctx, op, attempts, start, nil)
	return value, nil
}

func (f *Fetcher) record(ctx context.Context, op string, attempts int, start time.Time, ferr *Error) {
	ev := stats.Event{
		Method:   op,
		Attempts: attempts,
		OK:       ferr == nil,
		Duration: time.Since(start),
		At:       start,
	}
	if ferr != nil {
		ev.Kind = string(ferr.Kind)
	}
	if err := f.events.Record(ctx, ev); err != nil {
		f.logger.Debug().Err(err).Str("method", op).Msg("failed to record stats")
	}
}

// GetLogs returns the logs matching filter, possibly none
func (f *Fetcher) GetLogs(ctx context.Context, filter eth.Filter) ([]eth.Log, error) {
	return execute(ctx, f, transport.MethodGetLogs, func(ctx context.Context) ([]eth.Log, error) {
		return f.client.GetLogs(ctx, filter)
	})
}

// GetBlock returns the block with transaction hashes, or nil if the node does not have it
func (f *Fetcher) GetBlock(ctx context.Context, number uint64) (*eth.Block[eth.Hash], error) {
	return execute(ctx, f, transport.MethodGetBlockByNumber, func(ctx context.Context) (*eth.Block[eth.Hash], error) {
		return f.client.GetBlock(ctx, number)
	})
}

// GetBlockWithTxs returns the block with full transactions, or nil if the node does not have it
func (f *Fetcher) GetBlockWithTxs(ctx context.Context, number uint64) (*eth.Block[eth.Transaction], error) {
	return execute(ctx, f, transport.MethodGetBlockByNumber, func(ctx context.Context) (*eth.Block[eth.Transaction], error) {
		return f.client.GetBlockWithTxs(ctx, number)
	})
}

// GetBlockReceipts returns every receipt of a block
func (f *Fetcher) GetBlockReceipts(ctx context.Context, number uint64) ([]eth.Receipt, error) {
	return execute(ctx, f, transport.MethodGetBlockReceipts, func(ctx context.Context) ([]eth.Receipt, error) {
		return f.client.GetBlockReceipts(ctx, number)
	})
}

// GetTransaction returns a transaction, or nil if it is unknown
func (f *Fetcher) GetTransaction(ctx context.Context, hash eth.Hash) (*eth.Transaction, error) {
	return execute(ctx, f, transport.MethodGetTransactionByHash, func(ctx context.Context) (*eth.Transaction, error) {
		return f.client.GetTransaction(ctx, hash)
	})
}

// GetTransactionReceipt returns a receipt, or nil if it is unknown
func (f *Fetcher) GetTransactionReceipt(ctx context.Context, hash eth.Hash) (*eth.Receipt, error) {
	return execute(ctx, f, transport.MethodGetTransactionReceipt, func(ctx context.Context) (*eth.Receipt, error) {
		return f.client.GetTransactionReceipt(ctx, hash)
	})
}

// TraceBlock returns the traces created at block
func (f *Fetcher) TraceBlock(ctx context.Context, block blockparam.BlockNumber) ([]eth.Trace, error) {
	return execute(ctx, f, transport.MethodTraceBlock, func(ctx context.Context) ([]eth.Trace, error) {
		return f.client.TraceBlock(ctx, block)
	})
}

// TraceTransaction returns the traces of a transaction
func (f *Fetcher) TraceTransaction(ctx context.Context, hash eth.Hash) ([]eth.Trace, error) {
	return execute(ctx, f, transport.MethodTraceTransaction, func(ctx context.Context) ([]eth.Trace, error) {
		return f.client.TraceTransaction(ctx, hash)
	})
}

// TraceReplayBlockTransactions replays every transaction of block with the given trace types
func (f *Fetcher) TraceReplayBlockTransactions(ctx context.Context, block blockparam.BlockNumber, traceTypes []eth.TraceType) ([]eth.BlockTrace, error) {
	return execute(ctx, f, transport.MethodTraceReplayBlockTransactions, func(ctx context.Context) ([]eth.BlockTrace, error) {
		return f.client.TraceReplayBlockTransactions(ctx, block, traceTypes)
	})
}

// TraceReplayTransaction replays one transaction with the given trace types
func (f *Fetcher) TraceReplayTransaction(ctx context.Context, hash eth.Hash, traceTypes []eth.TraceType) (eth.BlockTrace, error) {
	return execute(ctx, f, transport.MethodTraceReplayTransaction, func(ctx context.Context) (eth.BlockTrace, error) {
		return f.client.TraceReplayTransaction(ctx, hash, traceTypes)
	})
}

// GetBlockNumber returns the current chain head
func (f *Fetcher) GetBlockNumber(ctx context.Context) (uint64, error) {
	return execute(ctx, f, transport.MethodBlockNumber, func(ctx context.Context) (uint64, error) {
		return f.client.GetBlockNumber(ctx)
	})
}

// ChainID returns the chain id reported by the node
func (f *Fetcher) ChainID(ctx context.Context) (uint64, error) {
	return execute(ctx, f, transport.MethodChainID, func(ctx context.Context) (uint64, error) {
		return f.client.ChainID(ctx)
	})
}
