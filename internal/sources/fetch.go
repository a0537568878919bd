package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 8 << 20
)

// Fetcher returns the body of a page. It fails on network errors, timeouts
// and non-2xx responses.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPFetcher{client: client, userAgent: defaultUserAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	res, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("request %s returned status %d", rawURL, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}

func ParseDocument(body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// FetchDocument fetches a page and parses it as html.
func FetchDocument(ctx context.Context, fetcher Fetcher, rawURL string) (*goquery.Document, error) {
	body, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return ParseDocument(body)
}

// FormatNumber renders an episode number the way sites print it: 12, 12.5.
func FormatNumber(number float64) string {
	return strconv.FormatFloat(number, 'f', -1, 64)
}

// AbsoluteURL resolves href against baseURL; hrefs that fail to parse are returned as is.
func AbsoluteURL(baseURL string, href string) string {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" {
		return ""
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return trimmed
	}
	return base.ResolveReference(ref).String()
}

// TrimBaseURL normalizes a configured base url, falling back to canonical.
func TrimBaseURL(baseURL string, canonical string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return canonical
	}
	return trimmed
}
