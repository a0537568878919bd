// Package aggregator fans episode lookups out across every source a title is
// mapped on and merges the answers by episode number.
//
// Both entry points are total: they never return an error. Handler failures
// are already absorbed by the handlers; anything that still goes wrong here
// (a selection error or a panicking handler) yields an empty result.
//
// Calls are not cancellable from inside; per-request timeouts belong to the
// fetcher's http client.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"
)

type handlerLookup interface {
	Get(name string) (sources.Handler, error)
	Knows(name string) bool
}

type Observer interface {
	ObserveAggregation(operation string, results int)
}

type Aggregator struct {
	registry handlerLookup
	observer Observer
	logger   *slog.Logger
}

type selection struct {
	source  string
	titleID string
	handler sources.Handler
}

func New(registry handlerLookup, observer Observer, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{registry: registry, observer: observer, logger: logger}
}

// ResolveAll lists every episode url the title's sources report, merged by
// episode number and sorted ascending. filter restricts the lookup to one source.
func (a *Aggregator) ResolveAll(ctx context.Context, title models.Title, filter mo.Option[string]) []models.ResolvedEpisode {
	selected, err := a.selectHandlers(title, filter)
	if err != nil {
		a.logger.Warn("resolve all: handler selection failed", "titleId", title.ID, "error", err)
		a.observe("resolve_all", 0)
		return []models.ResolvedEpisode{}
	}

	listings := make([][]sources.EpisodeURL, len(selected))
	err = gather(selected, func(index int, item selection) {
		listings[index] = item.handler.AllEpisodeURLs(ctx, item.titleID)
	})
	if err != nil {
		a.logger.Warn("resolve all: handler invocation failed", "titleId", title.ID, "error", err)
		a.observe("resolve_all", 0)
		return []models.ResolvedEpisode{}
	}

	merged := mergeByNumber(selected, listings)
	a.observe("resolve_all", len(merged))
	return merged
}

// ResolveOne asks every source of the title for one episode and keeps the
// sources that returned a url.
func (a *Aggregator) ResolveOne(ctx context.Context, title models.Title, number float64) []models.SourceURL {
	selected, err := a.selectHandlers(title, mo.None[string]())
	if err != nil {
		a.logger.Warn("resolve one: handler selection failed", "titleId", title.ID, "error", err)
		a.observe("resolve_one", 0)
		return []models.SourceURL{}
	}

	urls := make([]mo.Option[string], len(selected))
	err = gather(selected, func(index int, item selection) {
		urls[index] = item.handler.EpisodeURL(ctx, item.titleID, number)
	})
	if err != nil {
		a.logger.Warn("resolve one: handler invocation failed", "titleId", title.ID, "episode", number, "error", err)
		a.observe("resolve_one", 0)
		return []models.SourceURL{}
	}

	found := lo.FilterMap(selected, func(item selection, index int) (models.SourceURL, bool) {
		value, ok := urls[index].Get()
		if !ok || value == "" {
			return models.SourceURL{}, false
		}
		return models.SourceURL{Source: item.source, URL: value}, true
	})
	a.observe("resolve_one", len(found))
	return found
}

// selectHandlers picks the sources with an identifier that the registry
// knows, in name order so merges are deterministic.
func (a *Aggregator) selectHandlers(title models.Title, filter mo.Option[string]) ([]selection, error) {
	names := lo.Keys(title.SourceMap)
	sort.Strings(names)

	only, filtered := filter.Get()
	selected := make([]selection, 0, len(names))
	for _, name := range names {
		titleID, ok := title.SourceItemID(name)
		if !ok {
			continue
		}
		if filtered && name != only {
			continue
		}
		if !a.registry.Knows(name) {
			a.logger.Debug("skipping unknown source", "titleId", title.ID, "source", name)
			continue
		}

		handler, err := a.registry.Get(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, selection{source: name, titleID: titleID, handler: handler})
	}

	return selected, nil
}

func (a *Aggregator) observe(operation string, results int) {
	if a.observer != nil {
		a.observer.ObserveAggregation(operation, results)
	}
}

// gather runs fn for every selection concurrently and waits for all of them.
// A panicking task fails the whole gather.
func gather(selected []selection, fn func(index int, item selection)) error {
	var group errgroup.Group
	for index, item := range selected {
		group.Go(func() (err error) {
			defer func() {
				if recovered := recover(); recovered != nil {
					err = fmt.Errorf("source %s panicked: %v", item.source, recovered)
				}
			}()
			fn(index, item)
			return nil
		})
	}
	return group.Wait()
}

// mergeByNumber unions the listings: the first source reporting a number
// creates its entry and later sources append to it.
func mergeByNumber(selected []selection, listings [][]sources.EpisodeURL) []models.ResolvedEpisode {
	merged := make([]models.ResolvedEpisode, 0)
	slots := make(map[float64]int)

	for index, listing := range listings {
		source := selected[index].source
		for _, item := range listing {
			if item.URL == "" {
				continue
			}
			link := models.SourceURL{Source: source, URL: item.URL}
			if slot, ok := slots[item.Number]; ok {
				merged[slot].URLs = append(merged[slot].URLs, link)
				continue
			}
			slots[item.Number] = len(merged)
			merged = append(merged, models.ResolvedEpisode{Number: item.Number, URLs: []models.SourceURL{link}})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Number < merged[j].Number
	})

	return merged
}
