package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gabriel/episode-tracker/backend/internal/events"
	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/gabriel/episode-tracker/backend/internal/tracker"
)

const (
	EventTitleListRequest    = "title list request"
	EventTitleSaveRequest    = "title create/update request"
	EventSourceCreateRequest = "source create request"
	EventSourceDeleteRequest = "source delete request"
	EventEpisodeWatchRequest = "episode watch/unwatch request"
	EventLinkRescanRequest   = "link rescan request"
	EventTitleDeleteRequest  = "title delete request"
)

var errInternal = errors.New("internal error, please retry")

type titleService interface {
	ListTitles(ctx context.Context) ([]models.Title, error)
	SaveTitle(ctx context.Context, req tracker.SaveTitleRequest) (models.Title, error)
	CreateSource(ctx context.Context, name string) error
	DeleteSource(ctx context.Context, name string) error
	SetWatched(ctx context.Context, req tracker.WatchRequest) error
	RescanEpisode(ctx context.Context, titleName string, number float64) ([]models.SourceURL, error)
	RescanTitle(ctx context.Context, titleName string) (tracker.RescanReport, error)
	DeleteTitle(ctx context.Context, titleName string) error
}

// EventsHandler binds the client events of one connection to the title service.
type EventsHandler struct {
	service titleService
	logger  *slog.Logger
}

func NewEventsHandler(service titleService, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{service: service, logger: logger}
}

func (h *EventsHandler) Bind(ch events.Channel) {
	ch.On(EventTitleListRequest, func(ctx context.Context, _ events.Event, ack events.Ack) {
		titles, err := h.service.ListTitles(ctx)
		if err != nil {
			h.reply(ack, EventTitleListRequest, err, nil)
			return
		}
		if err := ch.Emit(tracker.TitleListEvent, titles); err != nil {
			h.logger.Debug("emit title list failed", "error", err)
		}
		h.reply(ack, EventTitleListRequest, nil, nil)
	})

	ch.On(EventTitleSaveRequest, func(ctx context.Context, event events.Event, ack events.Ack) {
		var req tracker.SaveTitleRequest
		if err := event.Decode(&req); err != nil {
			h.reply(ack, event.Name, &tracker.ValidationError{Message: "title payload is malformed"}, nil)
			return
		}
		title, err := h.service.SaveTitle(ctx, req)
		h.reply(ack, event.Name, err, title)
	})

	ch.On(EventSourceCreateRequest, func(ctx context.Context, event events.Event, ack events.Ack) {
		var name string
		if err := event.Decode(&name); err != nil {
			h.reply(ack, event.Name, &tracker.ValidationError{Message: "a source must have a name"}, nil)
			return
		}
		h.reply(ack, event.Name, h.service.CreateSource(ctx, name), nil)
	})

	ch.On(EventSourceDeleteRequest, func(ctx context.Context, event events.Event, ack events.Ack) {
		var name string
		if err := event.Decode(&name); err != nil {
			h.reply(ack, event.Name, &tracker.ValidationError{Message: "a source must have a name"}, nil)
			return
		}
		h.reply(ack, event.Name, h.service.DeleteSource(ctx, name), nil)
	})

	ch.On(EventEpisodeWatchRequest, func(ctx context.Context, event events.Event, ack events.Ack) {
		var req tracker.WatchRequest
		if err := event.Decode(&req); err != nil {
			h.reply(ack, event.Name, &tracker.ValidationError{Message: "episode payload is malformed"}, nil)
			return
		}
		h.reply(ack, event.Name, h.service.SetWatched(ctx, req), nil)
	})

	ch.On(EventLinkRescanRequest, func(ctx context.Context, event events.Event, ack events.Ack) {
		var req tracker.RescanRequest
		if err := event.Decode(&req); err != nil {
			h.reply(ack, event.Name, &tracker.ValidationError{Message: "must specify a title to rescan"}, nil)
			return
		}
		if req.EpisodeNumber != nil {
			urls, err := h.service.RescanEpisode(ctx, req.TitleName, *req.EpisodeNumber)
			h.reply(ack, event.Name, err, urls)
			return
		}
		report, err := h.service.RescanTitle(ctx, req.TitleName)
		h.reply(ack, event.Name, err, report)
	})

	ch.On(EventTitleDeleteRequest, func(ctx context.Context, event events.Event, ack events.Ack) {
		var name string
		if err := event.Decode(&name); err != nil {
			h.reply(ack, event.Name, &tracker.ValidationError{Message: "must specify a title to delete"}, nil)
			return
		}
		h.reply(ack, event.Name, h.service.DeleteTitle(ctx, name), nil)
	})
}

// reply acks the event when the client asked for it. Storage failures are
// logged and replaced with a generic message.
func (h *EventsHandler) reply(ack events.Ack, eventName string, err error, data any) {
	if err != nil {
		var validation *tracker.ValidationError
		if !errors.As(err, &validation) && !errors.Is(err, tracker.ErrNotFound) {
			h.logger.Error("event failed", "event", eventName, "error", err)
			err = errInternal
		}
		data = nil
	}
	if ack != nil {
		ack(err, data)
	}
}
