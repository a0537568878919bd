package gogoanime

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/samber/mo"
)

const (
	Key              = "gogoanime"
	canonicalBaseURL = "https://www3.gogoanime.se"
	lastItemSelector = "ul#episode_page > li > a"
)

var episodeStartPattern = regexp.MustCompile(`ep_start\s*=\s*["']([0-9]+)["']`)

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
	return "Gogoanime"
}

func (h *Handler) Kind() string {
	return sources.KindEpisodic
}

func (h *Handler) FirstEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	first, err := h.firstEpisode(ctx, titleID)
	return sources.Absent(Key, "first_episode", first, err)
}

func (h *Handler) LastEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	last, err := h.lastEpisode(ctx, titleID)
	return sources.Absent(Key, "last_episode", last, err)
}

// EpisodeURL builds the url without checking that the page exists.
func (h *Handler) EpisodeURL(_ context.Context, titleID string, number float64) mo.Option[string] {
	slug := strings.TrimSpace(titleID)
	if slug == "" || number < 0 || math.IsNaN(number) || math.IsInf(number, 0) {
		return mo.None[string]()
	}
	return mo.Some(h.baseURL + "/" + url.PathEscape(slug) + "-episode-" + sources.FormatNumber(number))
}

func (h *Handler) AllEpisodeURLs(ctx context.Context, titleID string) []sources.EpisodeURL {
	return sources.CollectRange(ctx, h, titleID)
}

// The listing page counts from zero while the episodes themselves start at one.
func (h *Handler) firstEpisode(ctx context.Context, titleID string) (float64, error) {
	body, err := h.fetchListing(ctx, titleID)
	if err != nil {
		return 0, err
	}

	match := episodeStartPattern.FindStringSubmatch(body)
	if len(match) < 2 {
		return 0, fmt.Errorf("ep_start marker not found")
	}

	start, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("parse ep_start %q: %w", match[1], err)
	}

	return float64(start + 1), nil
}

func (h *Handler) lastEpisode(ctx context.Context, titleID string) (float64, error) {
	body, err := h.fetchListing(ctx, titleID)
	if err != nil {
		return 0, err
	}

	doc, err := sources.ParseDocument(body)
	if err != nil {
		return 0, err
	}

	anchor := doc.Find(lastItemSelector).Last()
	if anchor.Length() == 0 {
		return 0, fmt.Errorf("episode page list not found")
	}

	raw, ok := anchor.Attr("ep_end")
	if !ok {
		return 0, fmt.Errorf("ep_end attribute missing")
	}

	end, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse ep_end %q: %w", raw, err)
	}

	return float64(end), nil
}

func (h *Handler) fetchListing(ctx context.Context, titleID string) (string, error) {
	slug := strings.TrimSpace(titleID)
	if slug == "" {
		return "", fmt.Errorf("title id is required")
	}

	body, err := h.fetcher.Fetch(ctx, h.baseURL+"/category/"+url.PathEscape(slug))
	if err != nil {
		return "", fmt.Errorf("fetch gogoanime category page: %w", err)
	}
	return body, nil
}
