package handlers

import (
	"context"

	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/gofiber/fiber/v2"
)

type sourceNameLister interface {
	ListSourceNames(ctx context.Context) ([]string, error)
}

type sourceItem struct {
	Name    string `json:"name"`
	Handler bool   `json:"handler"`
	Kind    string `json:"kind,omitempty"`
}

type SourcesHandler struct {
	names    sourceNameLister
	registry *sources.Registry
}

func NewSourcesHandler(names sourceNameLister, registry *sources.Registry) *SourcesHandler {
	return &SourcesHandler{names: names, registry: registry}
}

// List returns the user's source names, flagging those this build can scan,
// followed by every supported source.
func (h *SourcesHandler) List(c *fiber.Ctx) error {
	names, err := h.names.ListSourceNames(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to list sources"})
	}

	kinds := make(map[string]string)
	for _, descriptor := range h.registry.List() {
		kinds[descriptor.Key] = descriptor.Kind
	}

	items := make([]sourceItem, 0, len(names))
	for _, name := range names {
		kind, ok := kinds[name]
		items = append(items, sourceItem{Name: name, Handler: ok, Kind: kind})
	}

	return c.JSON(fiber.Map{"items": items, "supported": h.registry.List()})
}
