package sources

import (
	"context"
	"log/slog"

	"github.com/samber/mo"
)

const (
	KindEpisodic  = "episodic"
	KindChaptered = "chaptered"
)

type EpisodeURL struct {
	Number float64 `json:"number"`
	URL    string  `json:"url"`
}

// Handler knows how to discover episodes of a title on one external source.
// None of the methods fail: fetch and parse errors surface as absent values
// or an empty listing.
type Handler interface {
	Key() string
	Name() string
	Kind() string
	FirstEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64]
	LastEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64]
	EpisodeURL(ctx context.Context, titleID string, number float64) mo.Option[string]
	// AllEpisodeURLs never contains an entry without url and is sorted by number.
	AllEpisodeURLs(ctx context.Context, titleID string) []EpisodeURL
}

// Absent converts a fallible lookup into an optional value. The error is
// only reported at debug level since stale markup is expected.
func Absent[T any](source string, operation string, value T, err error) mo.Option[T] {
	if err != nil {
		slog.Debug("source lookup absent", "source", source, "operation", operation, "error", err)
		return mo.None[T]()
	}
	return mo.Some(value)
}
