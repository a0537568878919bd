package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/samber/mo"
)

type memoryStore struct {
	mu     sync.Mutex
	titles []models.Title
	names  []string

	// failTitle makes a source write fail when it reaches this title id.
	failTitle string
}

func cloneTitle(title models.Title) models.Title {
	out := title
	out.SourceMap = make(map[string]*string, len(title.SourceMap))
	for key, value := range title.SourceMap {
		if value == nil {
			out.SourceMap[key] = nil
			continue
		}
		copied := *value
		out.SourceMap[key] = &copied
	}
	out.Episodes = make([]models.Episode, len(title.Episodes))
	for index, episode := range title.Episodes {
		episode.URLs = append([]models.SourceURL(nil), episode.URLs...)
		out.Episodes[index] = episode
	}
	return out
}

func (m *memoryStore) ReadTitles(context.Context) ([]models.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Title, 0, len(m.titles))
	for _, title := range m.titles {
		out = append(out, cloneTitle(title))
	}
	return out, nil
}

func (m *memoryStore) ReadSourceNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...), nil
}

func (m *memoryStore) WriteTitle(_ context.Context, title models.Title) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for index := range m.titles {
		if m.titles[index].ID == title.ID {
			m.titles[index] = cloneTitle(title)
			return nil
		}
	}
	m.titles = append(m.titles, cloneTitle(title))
	return nil
}

func (m *memoryStore) ReplaceSources(_ context.Context, names []string, titles []models.Title) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]models.Title, len(m.titles))
	copy(next, m.titles)
	for _, title := range titles {
		if title.ID == m.failTitle {
			return fmt.Errorf("write title %s: disk full", title.ID)
		}
		for index := range next {
			if next[index].ID == title.ID {
				next[index] = cloneTitle(title)
			}
		}
	}

	m.titles = next
	m.names = append([]string(nil), names...)
	return nil
}

func (m *memoryStore) DeleteTitle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for index := range m.titles {
		if m.titles[index].ID == id {
			m.titles = append(m.titles[:index], m.titles[index+1:]...)
			return nil
		}
	}
	return nil
}

// stubResolver reports the configured episode numbers for every mapped source.
type stubResolver struct {
	mu      sync.Mutex
	numbers []float64
}

func (r *stubResolver) set(numbers ...float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers = numbers
}

func (r *stubResolver) ResolveAll(_ context.Context, title models.Title, _ mo.Option[string]) []models.ResolvedEpisode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ResolvedEpisode, 0)
	for _, number := range r.numbers {
		urls := r.urlsFor(title, number)
		if len(urls) > 0 {
			out = append(out, models.ResolvedEpisode{Number: number, URLs: urls})
		}
	}
	return out
}

func (r *stubResolver) ResolveOne(_ context.Context, title models.Title, number float64) []models.SourceURL {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, known := range r.numbers {
		if known == number {
			return r.urlsFor(title, number)
		}
	}
	return []models.SourceURL{}
}

func (r *stubResolver) urlsFor(title models.Title, number float64) []models.SourceURL {
	out := make([]models.SourceURL, 0)
	for _, name := range []string{"gogoanime", "otakustream"} {
		if id, ok := title.SourceItemID(name); ok {
			out = append(out, models.SourceURL{Source: name, URL: fmt.Sprintf("https://%s.test/%s/%g", name, id, number)})
		}
	}
	return out
}

type countingBroadcaster struct {
	mu     sync.Mutex
	events []string
	last   any
}

func (c *countingBroadcaster) Broadcast(name string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, name)
	c.last = payload
}

func (c *countingBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestService(numbers ...float64) (*Service, *memoryStore, *stubResolver, *countingBroadcaster) {
	store := &memoryStore{names: []string{"gogoanime", "otakustream"}}
	resolver := &stubResolver{numbers: numbers}
	broadcaster := &countingBroadcaster{}
	counter := 0
	service := NewService(store, resolver, broadcaster, nil).WithIDGenerator(func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	})
	return service, store, resolver, broadcaster
}

func ptr(value string) *string {
	return &value
}

func TestSaveTitleCreatesWithResolvedEpisodes(t *testing.T) {
	service, store, _, broadcaster := newTestService(1, 2, 3)
	ctx := context.Background()

	created, err := service.SaveTitle(ctx, SaveTitleRequest{
		Title:     "Frieren",
		SourceMap: map[string]*string{"gogoanime": ptr("frieren"), "unknown": ptr("x")},
		Active:    true,
	})
	if err != nil {
		t.Fatalf("create title: %v", err)
	}
	if created.ID != "id-1" || len(created.Episodes) != 3 {
		t.Fatalf("unexpected title: %+v", created)
	}
	if _, ok := created.SourceMap["unknown"]; ok {
		t.Fatalf("unknown source should be dropped from the source map")
	}
	if value, ok := created.SourceMap["otakustream"]; !ok || value != nil {
		t.Fatalf("expected explicit nil entry for otakustream, got %v", value)
	}
	if len(store.titles) != 1 || broadcaster.count() != 1 {
		t.Fatalf("expected one stored title and one broadcast")
	}

	_, err = service.SaveTitle(ctx, SaveTitleRequest{Title: "Frieren"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected duplicate title validation error, got %v", err)
	}
}

func TestSaveTitleRejectsMissingName(t *testing.T) {
	service, _, _, _ := newTestService()
	_, err := service.SaveTitle(context.Background(), SaveTitleRequest{Title: "  "})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveTitleUpdateKeepsEpisodesAndRefreshesURLs(t *testing.T) {
	service, _, resolver, _ := newTestService(1, 2)
	ctx := context.Background()

	created, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Mushishi", SourceMap: map[string]*string{"gogoanime": ptr("mushi")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := service.SetWatched(ctx, WatchRequest{TitleName: "Mushishi", Number: 1, Watched: true}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	resolver.set(1, 2, 3)
	updated, err := service.SaveTitle(ctx, SaveTitleRequest{
		ID:        created.ID,
		Title:     "Mushishi",
		SourceMap: map[string]*string{"gogoanime": ptr("mushi"), "otakustream": ptr("mushishi")},
		Active:    true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Episodes) != 2 {
		t.Fatalf("update must not append episodes, got %+v", updated.Episodes)
	}
	if !updated.Episodes[0].Watched {
		t.Fatalf("update must keep watched flags")
	}
	if len(updated.Episodes[0].URLs) != 2 {
		t.Fatalf("expected refreshed urls from both sources, got %+v", updated.Episodes[0].URLs)
	}

	_, err = service.SaveTitle(ctx, SaveTitleRequest{ID: "missing", Title: "Other"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestSourceCreateAndDelete(t *testing.T) {
	service, store, _, broadcaster := newTestService(1)
	ctx := context.Background()

	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Monster", SourceMap: map[string]*string{"gogoanime": ptr("monster"), "otakustream": ptr("monster")}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := service.CreateSource(ctx, "mangakakalot"); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := service.CreateSource(ctx, "mangakakalot"); err == nil {
		t.Fatalf("expected duplicate source to be rejected")
	}
	if err := service.CreateSource(ctx, ""); err == nil {
		t.Fatalf("expected empty source name to be rejected")
	}
	if value, ok := store.titles[0].SourceMap["mangakakalot"]; !ok || value != nil {
		t.Fatalf("expected nil mapping for the new source")
	}

	if err := service.DeleteSource(ctx, "otakustream"); err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if err := service.DeleteSource(ctx, "otakustream"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing source, got %v", err)
	}

	title := store.titles[0]
	if _, ok := title.SourceMap["otakustream"]; ok {
		t.Fatalf("deleted source still mapped")
	}
	for _, episode := range title.Episodes {
		for _, link := range episode.URLs {
			if link.Source == "otakustream" {
				t.Fatalf("deleted source url kept: %+v", link)
			}
		}
	}
	if len(store.names) != 2 || store.names[0] != "gogoanime" || store.names[1] != "mangakakalot" {
		t.Fatalf("unexpected source names: %v", store.names)
	}
	if broadcaster.count() != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", broadcaster.count())
	}
}

func TestSourceChangesAreAllOrNothing(t *testing.T) {
	service, store, _, broadcaster := newTestService(1)
	ctx := context.Background()

	for _, name := range []string{"Monster", "Mushishi"} {
		if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: name, SourceMap: map[string]*string{"gogoanime": ptr(name), "otakustream": ptr(name)}}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	before := broadcaster.count()

	store.failTitle = "id-2"
	if err := service.CreateSource(ctx, "mangakakalot"); err == nil {
		t.Fatalf("expected failed title write to fail the source create")
	}
	if len(store.names) != 2 {
		t.Fatalf("source name stored despite failure: %v", store.names)
	}
	for _, title := range store.titles {
		if _, ok := title.SourceMap["mangakakalot"]; ok {
			t.Fatalf("title %s mapped to a source that was not created", title.Title)
		}
	}

	if err := service.DeleteSource(ctx, "otakustream"); err == nil {
		t.Fatalf("expected failed title write to fail the source delete")
	}
	if len(store.names) != 2 || store.names[1] != "otakustream" {
		t.Fatalf("source name removed despite failure: %v", store.names)
	}
	for _, title := range store.titles {
		if _, ok := title.SourceMap["otakustream"]; !ok {
			t.Fatalf("title %s lost its mapping in a failed delete", title.Title)
		}
	}
	if broadcaster.count() != before {
		t.Fatalf("failed source changes should not broadcast")
	}

	store.failTitle = ""
	if err := service.CreateSource(ctx, "mangakakalot"); err != nil {
		t.Fatalf("retry create source: %v", err)
	}
	for _, title := range store.titles {
		if _, ok := title.SourceMap["mangakakalot"]; !ok {
			t.Fatalf("title %s missing the new source after retry", title.Title)
		}
	}
}

func TestSetWatchedValidation(t *testing.T) {
	service, _, _, _ := newTestService(1)
	ctx := context.Background()
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Haibane", SourceMap: map[string]*string{"gogoanime": ptr("haibane")}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := service.SetWatched(ctx, WatchRequest{TitleName: "Nope", Number: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing title error, got %v", err)
	}
	if err := service.SetWatched(ctx, WatchRequest{TitleName: "Haibane", Number: 7}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing episode error, got %v", err)
	}
}

func TestRescanTitleAppendsNewEpisodesInOrder(t *testing.T) {
	service, store, resolver, _ := newTestService(2, 3)
	ctx := context.Background()
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Dororo", SourceMap: map[string]*string{"gogoanime": ptr("dororo")}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := service.SetWatched(ctx, WatchRequest{TitleName: "Dororo", Number: 2, Watched: true}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	resolver.set(1, 2, 3, 4)
	report, err := service.RescanTitle(ctx, "Dororo")
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(report.Added) != 2 || report.Added[0] != 1 || report.Added[1] != 4 {
		t.Fatalf("unexpected added numbers: %v", report.Added)
	}

	episodes := store.titles[0].Episodes
	if len(episodes) != 4 {
		t.Fatalf("expected 4 episodes, got %+v", episodes)
	}
	for index, episode := range episodes {
		if episode.Number != float64(index+1) {
			t.Fatalf("episodes out of order: %+v", episodes)
		}
	}
	if !episodes[1].Watched || episodes[0].Watched || episodes[3].Watched {
		t.Fatalf("watched flags not preserved: %+v", episodes)
	}
}

func TestRescanEpisode(t *testing.T) {
	service, store, resolver, _ := newTestService(1, 2)
	ctx := context.Background()
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Kino", SourceMap: map[string]*string{"gogoanime": ptr("kino")}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resolver.set(1)
	urls, err := service.RescanEpisode(ctx, "Kino", 2)
	if err != nil {
		t.Fatalf("rescan episode: %v", err)
	}
	if len(urls) != 0 || len(store.titles[0].Episodes[1].URLs) != 0 {
		t.Fatalf("expected episode 2 urls to be cleared, got %+v", urls)
	}

	urls, err = service.RescanEpisode(ctx, "Kino", 1)
	if err != nil || len(urls) != 1 {
		t.Fatalf("expected one url for episode 1, got %+v (%v)", urls, err)
	}

	if _, err := service.RescanEpisode(ctx, "Kino", 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing episode error, got %v", err)
	}
}

func TestRescanActiveSkipsInactiveTitles(t *testing.T) {
	service, _, resolver, broadcaster := newTestService(1)
	ctx := context.Background()
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Active", Active: true, SourceMap: map[string]*string{"gogoanime": ptr("a")}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Paused", SourceMap: map[string]*string{"gogoanime": ptr("p")}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := broadcaster.count()

	resolver.set(1, 2)
	reports, err := service.RescanActive(ctx)
	if err != nil {
		t.Fatalf("rescan active: %v", err)
	}
	if len(reports) != 1 || reports[0].Title != "Active" || len(reports[0].Added) != 1 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if broadcaster.count() != before+1 {
		t.Fatalf("expected a single broadcast for the whole rescan")
	}
}

func TestDeleteTitle(t *testing.T) {
	service, store, _, _ := newTestService()
	ctx := context.Background()
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Gone"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := service.DeleteTitle(ctx, "Gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.titles) != 0 {
		t.Fatalf("title not deleted")
	}
	if err := service.DeleteTitle(ctx, "Gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentWatchRequestsDoNotLoseUpdates(t *testing.T) {
	service, store, _, _ := newTestService(1, 2, 3, 4, 5, 6, 7, 8)
	ctx := context.Background()
	if _, err := service.SaveTitle(ctx, SaveTitleRequest{Title: "Race", SourceMap: map[string]*string{"gogoanime": ptr("race")}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for number := 1; number <= 8; number++ {
		wg.Add(1)
		go func(number float64) {
			defer wg.Done()
			if err := service.SetWatched(ctx, WatchRequest{TitleName: "Race", Number: number, Watched: true}); err != nil {
				t.Errorf("watch %v: %v", number, err)
			}
		}(float64(number))
	}
	wg.Wait()

	for _, episode := range store.titles[0].Episodes {
		if !episode.Watched {
			t.Fatalf("lost watch update for episode %v", episode.Number)
		}
	}
}
