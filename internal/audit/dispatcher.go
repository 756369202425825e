package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
//
// With DropIfFull an ordinary event is dropped when the queue is full. A
// security event (see [Event.Security]) waits up to SecurityWait for space
// first. Without DropIfFull every event waits until the caller's ctx ends.
type Config struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	SecurityWait time.Duration
}

// Stats counts undelivered events.
type Stats struct {
	Dropped         uint64
	DroppedSecurity uint64
}

// Dispatcher relays events to a Sink on its own goroutine so that a slow
// sink never stalls the controller loop.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event
	quit  chan struct{}
	idle  chan struct{}

	dropped         atomic.Uint64
	droppedSecurity atomic.Uint64
	closing         atomic.Bool
	once            sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg is disabled; a
// nil Dispatcher discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		quit:  make(chan struct{}),
		idle:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.idle)

	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.quit:
			for n := len(d.queue); n > 0; n-- {
				d.sink.Emit(ctx, <-d.queue)
			}
			return
		}
	}
}

// Emit queues event according to Config.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	if d.cfg.DropIfFull && !event.Security() {
		d.dropped.Add(1)
		return
	}
	if d.cfg.DropIfFull && d.cfg.SecurityWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SecurityWait)
		defer cancel()
	} else if d.cfg.DropIfFull {
		d.drop(event)
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-d.quit:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if event.Security() {
		d.droppedSecurity.Add(1)
	}
}

// Close delivers queued events and stops the worker. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.quit)
		<-d.idle
	})
}

// Dropped returns the number of events that were not delivered.
func (d *Dispatcher) Dropped() uint64 {
	return d.Stats().Dropped
}

// Stats returns the drop counters.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Dropped:         d.dropped.Load(),
		DroppedSecurity: d.droppedSecurity.Load(),
	}
}
