package otakustream

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/samber/mo"
)

const (
	Key              = "otakustream"
	canonicalBaseURL = "https://otakustream.tv"
	episodeSelector  = "div.ep-list > ul > li > a"
)

var episodeLabelPattern = regexp.MustCompile(`Episode\s+([0-9]+)`)

type Handler struct {
	baseURL string
	fetcher sources.Fetcher
}

func NewHandler(fetcher sources.Fetcher) *Handler {
	return NewHandlerWithOptions(canonicalBaseURL, fetcher)
}

func NewHandlerWithOptions(baseURL string, fetcher sources.Fetcher) *Handler {
	if fetcher == nil {
		fetcher = sources.NewHTTPFetcher(nil)
	}
	return &Handler{
		baseURL: sources.TrimBaseURL(baseURL, canonicalBaseURL),
		fetcher: fetcher,
	}
}

func (h *Handler) Key() string {
	return Key
}

func (h *Handler) Name() string {
	return "OtakuStream"
}

func (h *Handler) Kind() string {
	return sources.KindEpisodic
}

// The episode list is newest first, so the first episode is the last item.
func (h *Handler) FirstEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	first, err := h.labelNumber(ctx, titleID, func(items *goquery.Selection) *goquery.Selection {
		return items.Last()
	})
	return sources.Absent(Key, "first_episode", first, err)
}

func (h *Handler) LastEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	last, err := h.labelNumber(ctx, titleID, func(items *goquery.Selection) *goquery.Selection {
		return items.First()
	})
	return sources.Absent(Key, "last_episode", last, err)
}

func (h *Handler) EpisodeURL(_ context.Context, titleID string, number float64) mo.Option[string] {
	slug := strings.TrimSpace(titleID)
	if slug == "" || number < 0 || math.IsNaN(number) || math.IsInf(number, 0) {
		return mo.None[string]()
	}
	return mo.Some(fmt.Sprintf("%s/anime/%s/episode-%s/", h.baseURL, url.PathEscape(slug), sources.FormatNumber(number)))
}

func (h *Handler) AllEpisodeURLs(ctx context.Context, titleID string) []sources.EpisodeURL {
	return sources.CollectRange(ctx, h, titleID)
}

func (h *Handler) labelNumber(ctx context.Context, titleID string, pick func(*goquery.Selection) *goquery.Selection) (float64, error) {
	slug := strings.TrimSpace(titleID)
	if slug == "" {
		return 0, fmt.Errorf("title id is required")
	}

	doc, err := sources.FetchDocument(ctx, h.fetcher, h.baseURL+"/anime/"+url.PathEscape(slug))
	if err != nil {
		return 0, fmt.Errorf("fetch otakustream anime page: %w", err)
	}

	items := doc.Find(episodeSelector)
	if items.Length() == 0 {
		return 0, fmt.Errorf("episode list not found")
	}

	return parseEpisodeLabel(pick(items).Text())
}

func parseEpisodeLabel(label string) (float64, error) {
	match := episodeLabelPattern.FindStringSubmatch(label)
	if len(match) < 2 {
		return 0, fmt.Errorf("no episode number in label %q", strings.TrimSpace(label))
	}

	number, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("parse episode label %q: %w", label, err)
	}
	return float64(number), nil
}
