package defaults

import (
	"sort"

	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/gabriel/episode-tracker/backend/internal/sources/native/gogoanime"
	"github.com/gabriel/episode-tracker/backend/internal/sources/native/mangakakalot"
	"github.com/gabriel/episode-tracker/backend/internal/sources/native/otakustream"
)

type constructor func(baseURL string, fetcher sources.Fetcher) sources.Handler

// constructors is the closed set of sources this build can talk to.
var constructors = map[string]constructor{
	gogoanime.Key: func(baseURL string, fetcher sources.Fetcher) sources.Handler {
		return gogoanime.NewHandlerWithOptions(baseURL, fetcher)
	},
	otakustream.Key: func(baseURL string, fetcher sources.Fetcher) sources.Handler {
		return otakustream.NewHandlerWithOptions(baseURL, fetcher)
	},
	mangakakalot.Key: func(baseURL string, fetcher sources.Fetcher) sources.Handler {
		return mangakakalot.NewHandlerWithOptions(baseURL, fetcher)
	},
}

type Options struct {
	Fetcher   sources.Fetcher
	Overrides map[string]Override
	Observer  sources.Observer
}

// Names returns every source name the build supports, sorted.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NewRegistry(opts Options) *sources.Registry {
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = sources.NewHTTPFetcher(nil)
	}

	registry := sources.NewRegistry()
	for _, name := range Names() {
		override := opts.Overrides[name]
		if !override.isEnabled() {
			continue
		}
		handler := constructors[name](override.BaseURL, fetcher)
		_ = registry.Register(sources.Instrument(handler, opts.Observer))
	}

	return registry
}
