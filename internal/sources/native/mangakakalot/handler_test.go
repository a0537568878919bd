package mangakakalot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabriel/episode-tracker/backend/internal/sources"
)

const chapterListPage = `
<!DOCTYPE html>
<html>
<body>
  <div class="chapter-list">
    <div class="row"><span><a href="https://manganelo.com/chapter/solo_leveling/chapter_110">Chapter 110</a></span></div>
    <div class="row"><span><a href="https://manganelo.com/chapter/solo_leveling/chapter_109.5">Chapter 109.5</a></span></div>
    <div class="row"><span><a href="/chapter/solo_leveling/chapter_109">Chapter 109</a></span></div>
    <div class="row"><span><a href="/chapter/solo_leveling/notice">Notice</a></span></div>
    <div class="row"><span><a href="https://manganelo.com/chapter/solo_leveling/chapter_1">Chapter 1</a></span></div>
  </div>
</body>
</html>`

func newTestHandler(t *testing.T) (*Handler, *int32) {
	t.Helper()
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/manga/solo_leveling", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(chapterListPage))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewHandlerWithOptions(server.URL, sources.NewHTTPFetcher(&http.Client{Timeout: 5 * time.Second})), &hits
}

func TestMangaKakalotListsChaptersAscending(t *testing.T) {
	handler, _ := newTestHandler(t)

	all := handler.AllEpisodeURLs(context.Background(), "solo_leveling")
	if len(all) != 4 {
		t.Fatalf("expected 4 chapters, got %d: %+v", len(all), all)
	}

	want := []float64{1, 109, 109.5, 110}
	for index, number := range want {
		if all[index].Number != number {
			t.Fatalf("expected chapter %v at %d, got %v", number, index, all[index].Number)
		}
	}
	if all[1].URL != handler.baseURL+"/chapter/solo_leveling/chapter_109" {
		t.Fatalf("expected relative href resolved against base, got %s", all[1].URL)
	}
	if all[3].URL != "https://manganelo.com/chapter/solo_leveling/chapter_110" {
		t.Fatalf("unexpected url for chapter 110: %s", all[3].URL)
	}
}

func TestMangaKakalotBoundsComeFromListingEdges(t *testing.T) {
	handler, _ := newTestHandler(t)
	ctx := context.Background()

	first, ok := handler.FirstEpisodeNumber(ctx, "solo_leveling").Get()
	if !ok || first != 1 {
		t.Fatalf("expected first chapter 1, got %v (present=%v)", first, ok)
	}
	last, ok := handler.LastEpisodeNumber(ctx, "solo_leveling").Get()
	if !ok || last != 110 {
		t.Fatalf("expected last chapter 110, got %v (present=%v)", last, ok)
	}
}

func TestMangaKakalotEpisodeURLScansListing(t *testing.T) {
	handler, hits := newTestHandler(t)
	ctx := context.Background()

	got, ok := handler.EpisodeURL(ctx, "solo_leveling", 109.5).Get()
	if !ok {
		t.Fatalf("expected chapter 109.5 to be found")
	}
	if got != handler.baseURL+"/chapter/solo_leveling/chapter_109.5/" {
		t.Fatalf("unexpected chapter url: %s", got)
	}

	if handler.EpisodeURL(ctx, "solo_leveling", 10).IsPresent() {
		t.Fatalf("expected chapter 10 to be absent")
	}
	if atomic.LoadInt32(hits) != 2 {
		t.Fatalf("expected one listing fetch per lookup, got %d", atomic.LoadInt32(hits))
	}
}

func TestMangaKakalotUnknownTitleIsAbsent(t *testing.T) {
	handler, _ := newTestHandler(t)
	ctx := context.Background()

	if handler.FirstEpisodeNumber(ctx, "unknown").IsPresent() {
		t.Fatalf("expected absent first chapter")
	}
	if handler.EpisodeURL(ctx, "unknown", 1).IsPresent() {
		t.Fatalf("expected absent chapter url")
	}
	if got := handler.AllEpisodeURLs(ctx, ""); len(got) != 0 {
		t.Fatalf("expected empty listing for empty id, got %d", len(got))
	}
}
