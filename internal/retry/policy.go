// Package retry repeats a failing node call with exponentially growing
// delays. Only the error of the final attempt is reported.
package retry

import (
	"context"
	"iter"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// Default policy values
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultFactor       = 2.0
)

// Policy describes how a failing call is repeated.
// A Policy is plain configuration and may be shared between goroutines.
type Policy struct {
	// InitialDelay is the wait before the second attempt
	InitialDelay time.Duration
	// Factor multiplies the delay after every failed attempt; <= 0 means DefaultFactor
	Factor float64
	// MaxDelay caps a single delay; 0 means uncapped
	MaxDelay time.Duration
	// MaxAttempts counts the first call; <= 0 means a single attempt
	MaxAttempts int
	// Retryable decides whether an error is worth another attempt; nil retries every error
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when retry is enabled without tuning
func DefaultPolicy(retryable func(error) bool) *Policy {
	return &Policy{
		InitialDelay: DefaultInitialDelay,
		Factor:       DefaultFactor,
		MaxAttempts:  DefaultMaxAttempts,
		Retryable:    retryable,
	}
}

// Attempts returns the total number of invocations the policy allows
func (p *Policy) Attempts() int {
	if p == nil || p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff yields the delays between attempts: Attempts()-1 values of
// InitialDelay * Factor^i, each capped at MaxDelay when set.
// Every call returns a fresh sequence.
func (p *Policy) Backoff() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		for i := 0; i < p.Attempts()-1; i++ {
			if !yield(p.delay(i)) {
				return
			}
		}
	}
}

func (p *Policy) delay(i int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}

	d := float64(p.InitialDelay) * math.Pow(factor, float64(i))
	delay := time.Duration(math.MaxInt64)
	if d < math.MaxInt64 {
		delay = time.Duration(d)
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether err may be retried under this policy.
// Cancellation is never retried.
func (p *Policy) ShouldRetry(err error) bool {
	if err == nil || p == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}
