package mangakakalot

import (
	"context"
	"fmt"
	"log/slog"
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
	Key              = "mangakakalot"
	canonicalBaseURL = "https://manganelo.com"
	chapterSelector  = "div.chapter-list > div.row > span > a"
)

var chapterHrefPattern = regexp.MustCompile(`chapter_([0-9]+(?:\.[0-9]+)?)/?$`)

type Handler struct {
	baseURL string
	fetcher sources.Fetcher
}

type chapterEntry struct {
	Chapter float64
	URL     string
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
	return "MangaKakalot"
}

func (h *Handler) Kind() string {
	return sources.KindChaptered
}

// The chapter list is newest first: the first chapter is the last row.
func (h *Handler) FirstEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	first, err := h.edgeChapter(ctx, titleID, func(items *goquery.Selection) *goquery.Selection {
		return items.Last()
	})
	return sources.Absent(Key, "first_episode", first, err)
}

func (h *Handler) LastEpisodeNumber(ctx context.Context, titleID string) mo.Option[float64] {
	last, err := h.edgeChapter(ctx, titleID, func(items *goquery.Selection) *goquery.Selection {
		return items.First()
	})
	return sources.Absent(Key, "last_episode", last, err)
}

// EpisodeURL confirms the chapter against a fresh listing before building its url.
func (h *Handler) EpisodeURL(ctx context.Context, titleID string, number float64) mo.Option[string] {
	chapterURL, err := h.chapterURL(ctx, titleID, number)
	return sources.Absent(Key, "episode_url", chapterURL, err)
}

func (h *Handler) AllEpisodeURLs(ctx context.Context, titleID string) []sources.EpisodeURL {
	items, err := h.fetchChapterList(ctx, titleID)
	if err != nil {
		slog.Debug("source lookup absent", "source", Key, "operation", "all_episode_urls", "error", err)
		return []sources.EpisodeURL{}
	}

	entries := parseChapterEntries(items, h.baseURL)
	out := make([]sources.EpisodeURL, 0, len(entries))
	for _, entry := range entries {
		out = append(out, sources.EpisodeURL{Number: entry.Chapter, URL: entry.URL})
	}
	sources.SortEpisodeURLs(out)

	return out
}

func (h *Handler) chapterURL(ctx context.Context, titleID string, number float64) (string, error) {
	if number < 0 || math.IsNaN(number) || math.IsInf(number, 0) {
		return "", fmt.Errorf("invalid chapter")
	}

	items, err := h.fetchChapterList(ctx, titleID)
	if err != nil {
		return "", err
	}

	for _, entry := range parseChapterEntries(items, h.baseURL) {
		if math.Abs(entry.Chapter-number) <= 1e-9 {
			slug := url.PathEscape(strings.TrimSpace(titleID))
			return fmt.Sprintf("%s/chapter/%s/chapter_%s/", h.baseURL, slug, sources.FormatNumber(number)), nil
		}
	}

	return "", fmt.Errorf("chapter %s not found", sources.FormatNumber(number))
}

func (h *Handler) edgeChapter(ctx context.Context, titleID string, pick func(*goquery.Selection) *goquery.Selection) (float64, error) {
	items, err := h.fetchChapterList(ctx, titleID)
	if err != nil {
		return 0, err
	}

	href, _ := pick(items).Attr("href")
	return parseChapterNumber(href)
}

func (h *Handler) fetchChapterList(ctx context.Context, titleID string) (*goquery.Selection, error) {
	slug := strings.TrimSpace(titleID)
	if slug == "" {
		return nil, fmt.Errorf("title id is required")
	}

	doc, err := sources.FetchDocument(ctx, h.fetcher, h.baseURL+"/manga/"+url.PathEscape(slug))
	if err != nil {
		return nil, fmt.Errorf("fetch mangakakalot manga page: %w", err)
	}

	items := doc.Find(chapterSelector)
	if items.Length() == 0 {
		return nil, fmt.Errorf("chapter list not found")
	}
	return items, nil
}

// parseChapterEntries skips rows whose link does not end in a chapter number.
func parseChapterEntries(items *goquery.Selection, baseURL string) []chapterEntry {
	entries := make([]chapterEntry, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Attr("href")
		if !ok {
			return
		}
		chapter, err := parseChapterNumber(href)
		if err != nil {
			return
		}
		chapterURL := sources.AbsoluteURL(baseURL, href)
		if chapterURL == "" {
			return
		}
		entries = append(entries, chapterEntry{Chapter: chapter, URL: chapterURL})
	})
	return entries
}

func parseChapterNumber(href string) (float64, error) {
	match := chapterHrefPattern.FindStringSubmatch(strings.TrimSpace(href))
	if len(match) < 2 {
		return 0, fmt.Errorf("no chapter number in %q", href)
	}

	chapter, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse chapter %q: %w", match[1], err)
	}
	return chapter, nil
}
