package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrQueueClosed = errors.New("connection closed")

type QueueObserver interface {
	AddQueued(delta int)
}

// Ordered wraps a connection channel so that handlers of events carrying an
// ack run one at a time, in arrival order. The next handler starts only after
// the previous one has called its ack. Events without an ack skip the queue.
//
// Every handler must eventually call its ack; a handler that never does
// blocks the connection's queue for good. Panics are turned into an error ack.
type Ordered struct {
	channel  Channel
	observer QueueObserver
	logger   *slog.Logger

	mu      sync.Mutex
	pending []*queueEntry
	closed  bool
}

type queueEntry struct {
	handler Handler
	ctx     context.Context
	event   Event
	ack     Ack
}

func NewOrdered(channel Channel, observer QueueObserver, logger *slog.Logger) *Ordered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ordered{channel: channel, observer: observer, logger: logger}
}

func (o *Ordered) On(name string, handler Handler) {
	o.channel.On(name, func(ctx context.Context, event Event, ack Ack) {
		if ack == nil {
			go o.invoke(handler, ctx, event, nil)
			return
		}
		o.enqueue(&queueEntry{handler: handler, ctx: ctx, event: event, ack: ack})
	})
}

func (o *Ordered) Emit(name string, payload any) error {
	return o.channel.Emit(name, payload)
}

// Pending returns the number of queued events, including the running one.
func (o *Ordered) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Close drops every waiting event. The running handler may still ack.
func (o *Ordered) Close() {
	o.mu.Lock()
	dropped := len(o.pending)
	o.pending = nil
	o.closed = true
	o.mu.Unlock()

	if dropped > 0 {
		o.observe(-dropped)
		o.logger.Debug("event queue closed with pending events", "dropped", dropped)
	}
}

func (o *Ordered) enqueue(entry *queueEntry) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		entry.ack(ErrQueueClosed, nil)
		return
	}
	o.pending = append(o.pending, entry)
	runNow := len(o.pending) == 1
	o.mu.Unlock()

	o.observe(1)
	if runNow {
		o.start(entry)
	}
}

func (o *Ordered) start(entry *queueEntry) {
	var once sync.Once
	wrapped := func(err error, data any) {
		once.Do(func() {
			defer o.advance(entry)
			entry.ack(err, data)
		})
	}
	go o.invoke(entry.handler, entry.ctx, entry.event, wrapped)
}

// advance removes the finished head and starts the next waiting entry.
func (o *Ordered) advance(done *queueEntry) {
	o.mu.Lock()
	if len(o.pending) == 0 || o.pending[0] != done {
		o.mu.Unlock()
		return
	}
	o.pending[0] = nil
	o.pending = o.pending[1:]
	var next *queueEntry
	if len(o.pending) > 0 {
		next = o.pending[0]
	}
	o.mu.Unlock()

	o.observe(-1)
	if next != nil {
		o.start(next)
	}
}

func (o *Ordered) invoke(handler Handler, ctx context.Context, event Event, ack Ack) {
	defer func() {
		if recovered := recover(); recovered != nil {
			o.logger.Error("event handler panicked", "event", event.Name, "panic", recovered)
			if ack != nil {
				ack(fmt.Errorf("internal error while handling %q", event.Name), nil)
			}
		}
	}()
	handler(ctx, event, ack)
}

func (o *Ordered) observe(delta int) {
	if o.observer != nil {
		o.observer.AddQueued(delta)
	}
}
