package sources

import (
	"context"
	"sort"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"
)

// maxRangeSize bounds the fan-out when a listing reports nonsense markers.
const maxRangeSize = 10000

// rangeHandler is the part of Handler needed to enumerate a discoverable range.
type rangeHandler interface {
	FirstEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64]
	LastEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64]
	EpisodeURL(ctx context.Context, titleID string, number float64) mo.Option[string]
}

// CollectRange resolves first and last episode numbers concurrently, then
// builds every url in between concurrently. Absent urls are dropped.
func CollectRange(ctx context.Context, handler rangeHandler, titleID string) []EpisodeURL {
	var first, last mo.Option[float64]

	var bounds errgroup.Group
	bounds.Go(func() error {
		first = handler.FirstEpisodeNumber(ctx, titleID)
		return nil
	})
	bounds.Go(func() error {
		last = handler.LastEpisodeNumber(ctx, titleID)
		return nil
	})
	_ = bounds.Wait()

	minEpisode, hasFirst := first.Get()
	maxEpisode, hasLast := last.Get()
	if !hasFirst || !hasLast || minEpisode > maxEpisode || maxEpisode-minEpisode >= maxRangeSize {
		return []EpisodeURL{}
	}

	numbers := make([]float64, 0, int(maxEpisode-minEpisode)+1)
	for number := minEpisode; number <= maxEpisode; number++ {
		numbers = append(numbers, number)
	}

	urls := make([]mo.Option[string], len(numbers))
	var group errgroup.Group
	for index, number := range numbers {
		group.Go(func() error {
			urls[index] = handler.EpisodeURL(ctx, titleID, number)
			return nil
		})
	}
	_ = group.Wait()

	out := make([]EpisodeURL, 0, len(numbers))
	for index, number := range numbers {
		if value, ok := urls[index].Get(); ok && value != "" {
			out = append(out, EpisodeURL{Number: number, URL: value})
		}
	}
	SortEpisodeURLs(out)

	return out
}

func SortEpisodeURLs(items []EpisodeURL) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Number < items[j].Number
	})
}
