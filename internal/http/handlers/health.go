package handlers

import (
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
)

type connectionCounter interface {
	Len() int
}

type handlerLister interface {
	Names() []string
}

type HealthHandler struct {
	db          *sql.DB
	registry    handlerLister
	connections connectionCounter
}

func NewHealthHandler(db *sql.DB, registry handlerLister, connections connectionCounter) *HealthHandler {
	return &HealthHandler{db: db, registry: registry, connections: connections}
}

// Check pings the database and reports how many source handlers are
// registered and how many sockets are open.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	body := fiber.Map{
		"status": "ok",
		"db":     "up",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.registry != nil {
		body["handlers"] = len(h.registry.Names())
	}
	if h.connections != nil {
		body["connections"] = h.connections.Len()
	}

	if err := h.db.PingContext(c.UserContext()); err != nil {
		body["status"] = "degraded"
		body["db"] = "down"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}
