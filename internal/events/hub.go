package events

import (
	"log/slog"
	"sync"
)

// Hub tracks the open connections so one event can be sent to all of them.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	channels map[uint64]Channel
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{channels: map[uint64]Channel{}, logger: logger}
}

// Add registers a channel and returns the function that removes it again.
func (h *Hub) Add(channel Channel) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.channels[id] = channel
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.channels, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Broadcast emits to every connection. Send failures are logged and skipped.
func (h *Hub) Broadcast(name string, payload any) {
	h.mu.RLock()
	targets := make([]Channel, 0, len(h.channels))
	for _, channel := range h.channels {
		targets = append(targets, channel)
	}
	h.mu.RUnlock()

	for _, channel := range targets {
		if err := channel.Emit(name, payload); err != nil {
			h.logger.Warn("broadcast failed", "event", name, "error", err)
		}
	}
}
