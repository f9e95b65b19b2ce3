package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering and delivery behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// DeliveryTimeout bounds a single sink call so one stuck sink cannot
	// wedge the queue. Zero selects the default.
	DeliveryTimeout time.Duration
}

const defaultDeliveryTimeout = 5 * time.Second

// Dispatcher forwards audit events to a sink from a dedicated goroutine so
// audit I/O never sits on the request path. Every discarded event is
// counted, in total and per event type.
type Dispatcher struct {
	sink    Sink
	ch      chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	block   bool
	timeout time.Duration

	dropped   atomic.Uint64
	mu        sync.Mutex
	droppedBy map[string]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:      sink,
		ch:        make(chan Event, cfg.BufferSize),
		done:      make(chan struct{}),
		block:     !cfg.DropIfFull,
		timeout:   cfg.DeliveryTimeout,
		droppedBy: map[string]uint64{},
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink under the delivery timeout. A sink
// panic is contained and counted as a drop; it must not kill the queue.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if recover() != nil {
			d.drop(event)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	d.sink.Emit(ctx, event)
}

// Emit enqueues one event. With DropIfFull a full buffer discards the event
// immediately; otherwise Emit blocks until there is room, the caller's
// context ends, or the dispatcher closes. Discards are counted either way.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.drop(event)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.block {
		select {
		case d.ch <- event:
		case <-ctx.Done():
			d.drop(event)
		case <-d.done:
			d.drop(event)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-d.done:
		d.drop(event)
	default:
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	d.mu.Lock()
	d.droppedBy[event.EventType]++
	d.mu.Unlock()
}

// Close stops the dispatcher after draining the buffer. Safe to call more
// than once and on a nil dispatcher.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports the total number of discarded events.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType breaks the discarded count down by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.droppedBy))
	for eventType, count := range d.droppedBy {
		out[eventType] = count
	}
	return out
}
