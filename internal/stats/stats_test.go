package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Record(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, Event{Method: "eth_getLogs", Attempts: 1, OK: true, Duration: time.Millisecond}))
	require.NoError(t, m.Record(ctx, Event{Method: "eth_getLogs", Attempts: 3, OK: false, Kind: "transport", Duration: 2 * time.Millisecond}))
	require.NoError(t, m.Record(ctx, Event{Method: "eth_blockNumber", Attempts: 1, OK: true}))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Total.Calls)
	assert.Equal(t, int64(1), snap.Total.Failed)
	assert.Equal(t, int64(5), snap.Total.Attempts)
	assert.Equal(t, map[string]int64{"transport": 1}, snap.Total.ByKind)

	logs := snap.ByMethod["eth_getLogs"]
	assert.Equal(t, int64(2), logs.Calls)
	assert.Equal(t, int64(4), logs.Attempts)
	assert.Equal(t, 3*time.Millisecond, logs.Duration)
	assert.Nil(t, snap.ByMethod["eth_blockNumber"].ByKind)
}

func TestMemory_SnapshotIsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, Event{Method: "a", Attempts: 1, Kind: "rpc"}))

	snap := m.Snapshot()
	snap.Total.ByKind["rpc"] = 100

	require.NoError(t, m.Record(ctx, Event{Method: "a", Attempts: 1, Kind: "rpc"}))
	assert.Equal(t, int64(2), m.Snapshot().Total.ByKind["rpc"])
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(context.Background(), Event{Method: "m", Attempts: 1, OK: true})
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Snapshot().ByMethod["m"].Calls)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	assert.NoError(t, r.Record(context.Background(), Event{}))
}

func TestRedis_NilClient(t *testing.T) {
	r := NewRedis(nil)
	assert.NoError(t, r.Record(context.Background(), Event{Method: "m"}))
	assert.NoError(t, r.Close())
}

func TestRedis_Keys(t *testing.T) {
	r := NewRedis(nil, WithPrefix(":fetch:"))
	at := time.Date(2024, 3, 9, 14, 5, 30, 0, time.UTC)

	total, method, bucket := r.Keys(at)
	assert.Equal(t, "fetch:total", total)
	assert.Equal(t, "fetch:method", method)
	assert.Equal(t, "fetch:minute:202403091405", bucket)
}

func TestRedis_UnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedis(rdb, WithTTL(time.Minute))
	defer r.Close()

	err := r.Record(context.Background(), Event{Method: "m", Attempts: 1})
	assert.Error(t, err)
}

// blockingRecorder holds every Record until release is closed
type blockingRecorder struct {
	release chan struct{}
	inner   *Memory
}

func (b *blockingRecorder) Record(ctx context.Context, ev Event) error {
	<-b.release
	return b.inner.Record(ctx, ev)
}

func TestAsync_RecordDoesNotWait(t *testing.T) {
	rec := &blockingRecorder{release: make(chan struct{}), inner: NewMemory()}
	a := NewAsync(rec, 4, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Record(context.Background(), Event{Method: "m", Attempts: 1, OK: true}))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	close(rec.release)
	require.NoError(t, a.Close())
	assert.Equal(t, int64(3), rec.inner.Snapshot().Total.Calls)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	rec := &blockingRecorder{release: make(chan struct{}), inner: NewMemory()}
	a := NewAsync(rec, 1, zerolog.Nop())

	// the writer may hold one event while the buffer holds another
	var dropped int
	for i := 0; i < 5; i++ {
		if err := a.Record(context.Background(), Event{Method: "m"}); err != nil {
			assert.ErrorIs(t, err, ErrDropped)
			dropped++
		}
	}
	assert.GreaterOrEqual(t, dropped, 3)
	assert.Equal(t, uint64(dropped), a.Dropped())

	close(rec.release)
	require.NoError(t, a.Close())
	assert.Equal(t, int64(5-dropped), rec.inner.Snapshot().Total.Calls)
}

func TestAsync_RecordAfterClose(t *testing.T) {
	m := NewMemory()
	a := NewAsync(m, 0, zerolog.Nop())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Record(context.Background(), Event{Method: "m"}), ErrRecorderClosed)
	assert.Equal(t, int64(0), m.Snapshot().Total.Calls)
}

func TestAsync_ClosesUnderlyingRecorder(t *testing.T) {
	r := NewRedis(nil)
	a := NewAsync(r, 0, zerolog.Nop())
	assert.NoError(t, a.Close())
}
