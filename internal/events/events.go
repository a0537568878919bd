package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type Event struct {
	Name    string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %q has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %q payload: %w", e.Name, err)
	}
	return nil
}

// Ack answers the client that sent an event. err is delivered as a
// user-visible message.
type Ack func(err error, data any)

// Handler handles one inbound event. ack is nil for fire-and-forget events.
type Handler func(ctx context.Context, event Event, ack Ack)

// Channel is a bidirectional event channel bound to one connection.
type Channel interface {
	On(name string, handler Handler)
	Emit(name string, payload any) error
}

type SendFunc func(name string, payload any) error

// Conn is the plain per-connection channel: the transport feeds inbound
// events through Dispatch and Emit writes through send. Handlers run on the
// dispatching goroutine.
type Conn struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	send     SendFunc
}

func NewConn(send SendFunc) *Conn {
	return &Conn{handlers: map[string]Handler{}, send: send}
}

func (c *Conn) On(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = handler
}

func (c *Conn) Emit(name string, payload any) error {
	if c.send == nil {
		return fmt.Errorf("connection cannot send")
	}
	return c.send(name, payload)
}

// Dispatch delivers an inbound event. It reports false when no handler is
// registered for the event name.
func (c *Conn) Dispatch(ctx context.Context, event Event, ack Ack) bool {
	c.mu.RLock()
	handler, ok := c.handlers[event.Name]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	handler(ctx, event, ack)
	return true
}
