package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("audit dispatcher closed")

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the number of sealed records awaiting the sink.
	QueueSize int
	Backoff   BackoffConfig
	Logger    *slog.Logger
	// OnStall is called each time Submit has to wait for queue space.
	OnStall func()
	// OnWriteError is called for every failed sink write before retrying.
	OnWriteError func(seq uint64, err error)
}

// Dispatcher seals entries in submission order and delivers them to a sink
// from a single writer goroutine.
type Dispatcher struct {
	chain  *Chain
	sink   Sink
	cfg    DispatcherConfig
	logger *slog.Logger

	// mu serializes Seal+enqueue so queue order equals sequence order.
	mu     sync.Mutex
	closed bool
	queue  chan Record

	stop    chan struct{}
	done    chan struct{}
	stalls  atomic.Uint64
	written atomic.Uint64
	pending atomic.Int64
}

// NewDispatcher starts the writer goroutine.
func NewDispatcher(chain *Chain, sink Sink, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	cfg.Backoff = cfg.Backoff.normalized()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		chain:  chain,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "audit")),
		queue:  make(chan Record, cfg.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit seals e and queues it for delivery. When the queue is full Submit
// blocks until space frees up or ctx ends; it never drops the record.
func (d *Dispatcher) Submit(ctx context.Context, e Entry) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Record{}, ErrDispatcherClosed
	}

	// Check for space before sealing so a cancelled wait does not consume
	// a sequence number.
	if len(d.queue) == cap(d.queue) {
		d.stalls.Add(1)
		if d.cfg.OnStall != nil {
			d.cfg.OnStall()
		}
		d.logger.Warn("audit queue full, blocking submitter", slog.Int("capacity", cap(d.queue)))
		if err := d.waitForSpace(ctx); err != nil {
			return Record{}, err
		}
	}

	rec, err := d.chain.Seal(e)
	if err != nil {
		return Record{}, err
	}
	d.pending.Add(1)
	// Space is guaranteed: mu excludes other producers and the writer only
	// removes items.
	d.queue <- rec
	return rec, nil
}

func (d *Dispatcher) waitForSpace(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for len(d.queue) == cap(d.queue) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("audit submit: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for rec := range d.queue {
		d.deliver(rec)
	}
}

// deliver retries the sink until it accepts rec or the dispatcher is told to
// stop retrying.
func (d *Dispatcher) deliver(rec Record) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; ; attempt++ {
		err := d.sink.Write(ctx, rec)
		if err == nil {
			d.written.Add(1)
			d.pending.Add(-1)
			return
		}
		if d.cfg.OnWriteError != nil {
			d.cfg.OnWriteError(rec.Sequence, err)
		}
		d.logger.Error("audit sink write failed",
			slog.Uint64("sequence", rec.Sequence),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))

		select {
		case <-d.stop:
			return
		case <-time.After(d.cfg.Backoff.Delay(attempt)):
		}
	}
}

// Stalls returns how many times Submit had to wait for queue space.
func (d *Dispatcher) Stalls() uint64 { return d.stalls.Load() }

// Written returns how many records the sink has accepted.
func (d *Dispatcher) Written() uint64 { return d.written.Load() }

// Pending returns the number of sealed records not yet accepted by the sink.
func (d *Dispatcher) Pending() int64 { return d.pending.Load() }

// Head returns the last sealed sequence and hash.
func (d *Dispatcher) Head() (uint64, string) { return d.chain.Head() }

// Close stops accepting entries and drains the queue. If ctx ends before the
// sink has accepted everything, retries are abandoned and the number of
// unwritten records is reported.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	var drainErr error
	select {
	case <-d.done:
	case <-ctx.Done():
		close(d.stop)
		<-d.done
		drainErr = fmt.Errorf("audit drain interrupted: %d records unwritten: %w", d.pending.Load(), ctx.Err())
	}

	if err := d.sink.Close(); err != nil {
		return errors.Join(drainErr, fmt.Errorf("close audit sink: %w", err))
	}
	return drainErr
}
