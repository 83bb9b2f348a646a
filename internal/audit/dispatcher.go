package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher mirrors committed audit entries to a sink without ever
// blocking the chain append that produced them. A nil Dispatcher is
// valid and discards everything, which is how a build without auditing
// behaves; callers never branch on whether auditing is on.
type Dispatcher struct {
	sink Sink
	ch   chan Event

	dropIfFull bool
	dropped    atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a dispatcher delivering to sink from a buffer of the
// given size. A nil sink means events are accepted and discarded,
// which still exercises the buffering and drop accounting.
func New(buffer int, dropIfFull bool, sink Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		ch:         make(chan Event, buffer),
		dropIfFull: dropIfFull,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Ranging the channel drains everything queued before Close.
		for event := range d.ch {
			d.sink.Emit(context.Background(), event)
		}
	}()

	return d
}

// Emit queues event for delivery. In drop-if-full mode a full buffer
// increments the dropped counter instead of blocking; otherwise Emit
// waits for buffer space or ctx cancellation. Emit after Close is a
// no-op.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.ch <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
	}
}

// Close stops intake, waits for every queued event to reach the sink,
// and returns. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	d.wg.Wait()
}

// Dropped reports how many events were discarded by drop-if-full
// backpressure since the dispatcher started.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
