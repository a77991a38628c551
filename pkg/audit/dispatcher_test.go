package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func TestDispatcherPreservesSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	d := NewDispatcher(NewChain(), sink, DispatcherConfig{QueueSize: 4, Backoff: fastBackoff()})

	for i := 1; i <= 100; i++ {
		_, err := d.Submit(ctx, entry(uint64(i), 1))
		require.NoError(t, err)
	}
	require.NoError(t, d.Close(ctx))

	records := sink.Records()
	require.Len(t, records, 100)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Tick, "records must arrive in submission order")
	}
	require.NoError(t, Verify(records, 0, GenesisHash))
	assert.Equal(t, uint64(100), d.Written())
	assert.Equal(t, int64(0), d.Pending())
}

func TestDispatcherConcurrentSubmitters(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	d := NewDispatcher(NewChain(), sink, DispatcherConfig{QueueSize: 8, Backoff: fastBackoff()})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := d.Submit(ctx, entry(1, 1))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, d.Close(ctx))

	records := sink.Records()
	require.Len(t, records, 200)
	require.NoError(t, Verify(records, 0, GenesisHash))
}

func TestDispatcherRetriesFailedWrites(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	var failures atomic.Int32
	sink.FailWith(func(r Record) error {
		if r.Sequence == 2 && failures.Load() < 3 {
			failures.Add(1)
			return errors.New("disk busy")
		}
		return nil
	})

	var reported atomic.Int32
	d := NewDispatcher(NewChain(), sink, DispatcherConfig{
		Backoff:      fastBackoff(),
		OnWriteError: func(uint64, error) { reported.Add(1) },
	})
	for i := 1; i <= 3; i++ {
		_, err := d.Submit(ctx, entry(uint64(i), 1))
		require.NoError(t, err)
	}
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, int32(3), reported.Load())
	records := sink.Records()
	require.Len(t, records, 3, "a failing write must be retried, not dropped")
	require.NoError(t, Verify(records, 0, GenesisHash))
}

// blockingSink holds every write until release is closed.
type blockingSink struct {
	*MemorySink
	release chan struct{}
}

func (s *blockingSink) Write(ctx context.Context, r Record) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemorySink.Write(ctx, r)
}

func TestDispatcherBlocksWhenFull(t *testing.T) {
	ctx := context.Background()
	sink := &blockingSink{MemorySink: NewMemorySink(), release: make(chan struct{})}
	var stalls atomic.Int32
	d := NewDispatcher(NewChain(), sink, DispatcherConfig{
		QueueSize: 2,
		Backoff:   fastBackoff(),
		OnStall:   func() { stalls.Add(1) },
	})

	// One record is held by the writer, two fill the queue.
	_, err := d.Submit(ctx, entry(1, 1))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	for i := 2; i <= 3; i++ {
		_, err := d.Submit(ctx, entry(uint64(i), 1))
		require.NoError(t, err)
	}
	require.Equal(t, 2, len(d.queue))

	submitted := make(chan struct{})
	go func() {
		_, err := d.Submit(ctx, entry(4, 1))
		assert.NoError(t, err)
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit must block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	close(sink.release)
	<-submitted
	require.NoError(t, d.Close(ctx))

	assert.Len(t, sink.Records(), 4)
	assert.Equal(t, uint64(1), d.Stalls())
	assert.Equal(t, int32(1), stalls.Load())
}

func TestDispatcherSubmitHonoursContextWhenFull(t *testing.T) {
	sink := &blockingSink{MemorySink: NewMemorySink(), release: make(chan struct{})}
	d := NewDispatcher(NewChain(), sink, DispatcherConfig{QueueSize: 1, Backoff: fastBackoff()})

	_, err := d.Submit(context.Background(), entry(1, 1))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	_, err = d.Submit(context.Background(), entry(2, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = d.Submit(ctx, entry(3, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	seq, _ := d.Head()
	assert.Equal(t, uint64(2), seq, "a cancelled submit must not consume a sequence number")

	close(sink.release)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, Verify(sink.Records(), 0, GenesisHash))
}

func TestDispatcherCloseReportsUnwritten(t *testing.T) {
	sink := NewMemorySink()
	sink.FailWith(func(Record) error { return errors.New("offline") })
	d := NewDispatcher(NewChain(), sink, DispatcherConfig{Backoff: fastBackoff()})

	_, err := d.Submit(context.Background(), entry(1, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 records unwritten")

	_, err = d.Submit(context.Background(), entry(2, 1))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}
