package sources

import (
	"context"
	"time"

	"github.com/samber/mo"
)

type Observer interface {
	ObserveSourceOperation(source string, operation string, present bool, elapsed time.Duration)
}

type instrumented struct {
	Handler
	observer Observer
}

// Instrument reports the outcome of every handler call to observer.
func Instrument(handler Handler, observer Observer) Handler {
	if observer == nil {
		return handler
	}
	return &instrumented{Handler: handler, observer: observer}
}

func (i *instrumented) FirstEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	started := time.Now()
	result := i.Handler.FirstEpisodeNumber(ctx, titleID)
	i.observer.ObserveSourceOperation(i.Key(), "first_episode", result.IsPresent(), time.Since(started))
	return result
}

func (i *instrumented) LastEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	started := time.Now()
	result := i.Handler.LastEpisodeNumber(ctx, titleID)
	i.observer.ObserveSourceOperation(i.Key(), "last_episode", result.IsPresent(), time.Since(started))
	return result
}

func (i *instrumented) EpisodeURL(ctx context.Context, titleID string, number float64) mo.Option[string] {
	started := time.Now()
	result := i.Handler.EpisodeURL(ctx, titleID, number)
	i.observer.ObserveSourceOperation(i.Key(), "episode_url", result.IsPresent(), time.Since(started))
	return result
}

func (i *instrumented) AllEpisodeURLs(ctx context.Context, titleID string) []EpisodeURL {
	started := time.Now()
	result := i.Handler.AllEpisodeURLs(ctx, titleID)
	i.observer.ObserveSourceOperation(i.Key(), "all_episode_urls", len(result) > 0, time.Since(started))
	return result
}
