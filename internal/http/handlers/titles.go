package handlers

import (
	"context"

	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

type titleLister interface {
	ListTitles(ctx context.Context) ([]models.Title, error)
}

type TitlesHandler struct {
	titles titleLister
}

func NewTitlesHandler(titles titleLister) *TitlesHandler {
	return &TitlesHandler{titles: titles}
}

func (h *TitlesHandler) List(c *fiber.Ctx) error {
	titles, err := h.titles.ListTitles(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to list titles"})
	}
	return c.JSON(fiber.Map{"items": titles})
}
