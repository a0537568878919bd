package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gabriel/episode-tracker/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
)

var errConnectionClosed = errors.New("connection closed")

type inboundFrame struct {
	Event   string          `json:"event"`
	Ack     *int64          `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ackFrame struct {
	Ack   int64   `json:"ack"`
	Error *string `json:"error"`
	Data  any     `json:"data"`
}

type eventFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// SocketHandler runs one websocket connection: inbound frames go through a
// per-connection ordered channel, acks and events are written back as JSON.
type SocketHandler struct {
	bindings *EventsHandler
	hub      *events.Hub
	observer events.QueueObserver
	logger   *slog.Logger
}

func NewSocketHandler(bindings *EventsHandler, hub *events.Hub, observer events.QueueObserver, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketHandler{bindings: bindings, hub: hub, observer: observer, logger: logger}
}

func (h *SocketHandler) Serve(c *websocket.Conn) {
	var writeMu sync.Mutex
	closed := false
	write := func(frame any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if closed {
			return errConnectionClosed
		}
		return c.WriteJSON(frame)
	}
	defer func() {
		writeMu.Lock()
		closed = true
		writeMu.Unlock()
	}()

	conn := events.NewConn(func(name string, payload any) error {
		return write(eventFrame{Event: name, Payload: payload})
	})
	ordered := events.NewOrdered(conn, h.observer, h.logger)
	defer ordered.Close()

	h.bindings.Bind(ordered)
	if h.hub != nil {
		remove := h.hub.Add(ordered)
		defer remove()
	}

	remote := c.RemoteAddr().String()
	h.logger.Debug("socket connected", "remote", remote)
	defer h.logger.Debug("socket disconnected", "remote", remote)

	// Handlers outlive the connection: a request already being processed is
	// committed even if the client goes away.
	ctx := context.Background()
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			h.logger.Debug("dropping malformed frame", "remote", remote, "error", err)
			continue
		}

		var ack events.Ack
		if frame.Ack != nil {
			id := *frame.Ack
			ack = func(err error, data any) {
				reply := ackFrame{Ack: id, Data: data}
				if err != nil {
					message := err.Error()
					reply.Error = &message
				}
				if writeErr := write(reply); writeErr != nil {
					h.logger.Debug("ack write failed", "remote", remote, "ack", id, "error", writeErr)
				}
			}
		}

		event := events.Event{Name: frame.Event, Payload: frame.Payload}
		if !conn.Dispatch(ctx, event, ack) && ack != nil {
			ack(fmt.Errorf("unknown event %q", frame.Event), nil)
		}
	}
}
