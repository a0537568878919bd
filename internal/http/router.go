package http

import (
	"database/sql"
	"log/slog"

	"github.com/gabriel/episode-tracker/backend/internal/config"
	"github.com/gabriel/episode-tracker/backend/internal/events"
	"github.com/gabriel/episode-tracker/backend/internal/http/handlers"
	"github.com/gabriel/episode-tracker/backend/internal/metrics"
	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/gabriel/episode-tracker/backend/internal/tracker"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Dependencies struct {
	DB       *sql.DB
	Registry *sources.Registry
	Service  *tracker.Service
	Hub      *events.Hub
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

func NewServer(cfg config.Config, deps Dependencies) *fiber.App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = events.NewHub(logger)
	}

	app := fiber.New(fiber.Config{
		AppName: cfg.AppName,
	})

	app.Use(recover.New())

	var registry interface{ Names() []string }
	if deps.Registry != nil {
		registry = deps.Registry
	}
	health := handlers.NewHealthHandler(deps.DB, registry, hub)
	sourceHandlers := handlers.NewSourcesHandler(deps.Service, deps.Registry)
	titles := handlers.NewTitlesHandler(deps.Service)
	bindings := handlers.NewEventsHandler(deps.Service, logger)
	socket := handlers.NewSocketHandler(bindings, hub, deps.Metrics, logger)

	app.Get("/health", health.Check)
	app.Get("/v1/health", health.Check)
	app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/sources", sourceHandlers.List)
	v1.Get("/titles", titles.List)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(socket.Serve))

	return app
}
