package stats

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrDropped is returned when the event buffer is full
	ErrDropped = errors.New("stats buffer full, event dropped")
	// ErrRecorderClosed is returned for events recorded after Close
	ErrRecorderClosed = errors.New("stats recorder closed")
)

const (
	// DefaultAsyncBuffer is the number of events queued before new ones are dropped
	DefaultAsyncBuffer = 1024

	asyncRecordTimeout = 5 * time.Second
)

// Async hands events to a single background writer so Record never waits
// on the underlying recorder. Close flushes queued events.
type Async struct {
	next   Recorder
	events chan Event
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

// NewAsync starts the writer goroutine for next. size <= 0 uses DefaultAsyncBuffer.
func NewAsync(next Recorder, size int, logger zerolog.Logger) *Async {
	if size <= 0 {
		size = DefaultAsyncBuffer
	}
	a := &Async{
		next:   next,
		events: make(chan Event, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues ev without blocking
func (a *Async) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrRecorderClosed
	}
	select {
	case a.events <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return ErrDropped
	}
}

// Dropped returns the number of events discarded because the buffer was full
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close writes the queued events, stops the writer and closes the
// underlying recorder if it is an io.Closer. Safe to call more than once.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
	if n := a.dropped.Load(); n > 0 {
		a.logger.Warn().Uint64("dropped", n).Msg("stats events dropped")
	}
	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), asyncRecordTimeout)
		if err := a.next.Record(ctx, ev); err != nil {
			a.logger.Debug().Err(err).Str("method", ev.Method).Msg("failed to record stats")
		}
		cancel()
	}
}
