// Package gate bounds how many node calls run at once and how fast new ones
// are admitted. A Gate combines an optional counting semaphore with an
// optional token-bucket limiter; callers take a Permit before every logical
// call and release it when the call, retries included, is finished.
package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by Acquire once the gate has been closed
var ErrClosed = errors.New("admission gate closed")

// Rate is a request quota: at most Requests admissions per Per.
// Requests <= 0 disables rate limiting.
type Rate struct {
	Requests int
	Per      time.Duration
	// Burst is the bucket size; defaults to 1. With Burst > 1 a full bucket
	// admits Burst calls at once, so a window of length Per can see up to
	// Requests+Burst-1 admissions.
	Burst int
}

func (r Rate) enabled() bool {
	return r.Requests > 0 && r.Per > 0
}

// Config for creating a new Gate
type Config struct {
	// MaxConcurrent is the permit count; <= 0 means unlimited
	MaxConcurrent int
	Rate          Rate
}

// Gate is the admission gate shared by all calls of a fetcher
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	inFlight atomic.Int64

	closedCtx context.Context
	closeFn   context.CancelFunc
	closeOnce sync.Once
}

// Permit is the right to perform one logical call
type Permit struct {
	gate     *Gate
	released atomic.Bool
}

// New creates a Gate. It returns nil when neither a concurrency nor a rate
// limit is configured; a nil *Gate admits everything.
func New(cfg Config) *Gate {
	if cfg.MaxConcurrent <= 0 && !cfg.Rate.enabled() {
		return nil
	}

	g := &Gate{}
	g.closedCtx, g.closeFn = context.WithCancel(context.Background())

	if cfg.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}

	if cfg.Rate.enabled() {
		burst := cfg.Rate.Burst
		if burst <= 0 {
			burst = 1
		}
		limit := rate.Limit(float64(cfg.Rate.Requests) / cfg.Rate.Per.Seconds())
		g.limiter = rate.NewLimiter(limit, burst)
	}

	return g
}

// Acquire waits for a concurrency permit and then for a rate token.
// If ctx is cancelled while waiting for the token, the permit is returned
// before Acquire does. The consumed token is not refunded.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if g == nil {
		return &Permit{}, nil
	}
	if g.closed() {
		return nil, ErrClosed
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.closedCtx, cancel)
	defer stop()

	if g.sem != nil {
		if err := g.sem.Acquire(waitCtx, 1); err != nil {
			return nil, g.waitError(ctx, err)
		}
	}

	permit := &Permit{gate: g}
	g.inFlight.Add(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(waitCtx); err != nil {
			permit.Release()
			return nil, g.waitError(ctx, err)
		}
	}

	return permit, nil
}

// waitError maps a failed wait to the caller's context error or ErrClosed
func (g *Gate) waitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if g.closed() {
		return ErrClosed
	}
	// the limiter fails fast when the token would arrive after ctx's deadline
	return errors.Mark(errors.Wrap(err, "admission wait failed"), context.DeadlineExceeded)
}

// Close marks the gate closed. Pending and future Acquire calls fail with
// ErrClosed; permits already handed out stay valid until released.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	g.closeOnce.Do(g.closeFn)
}

func (g *Gate) closed() bool {
	return g.closedCtx.Err() != nil
}

// InFlight returns the number of permits currently held
func (g *Gate) InFlight() int {
	if g == nil {
		return 0
	}
	return int(g.inFlight.Load())
}

// Release returns the permit. Calling it more than once is a no-op.
func (p *Permit) Release() {
	if p == nil || p.gate == nil {
		return
	}
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	p.gate.inFlight.Add(-1)
	if p.gate.sem != nil {
		p.gate.sem.Release(1)
	}
}
