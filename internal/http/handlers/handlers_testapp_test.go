package handlers_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gabriel/episode-tracker/backend/internal/aggregator"
	"github.com/gabriel/episode-tracker/backend/internal/config"
	"github.com/gabriel/episode-tracker/backend/internal/database"
	"github.com/gabriel/episode-tracker/backend/internal/events"
	apihttp "github.com/gabriel/episode-tracker/backend/internal/http"
	"github.com/gabriel/episode-tracker/backend/internal/metrics"
	"github.com/gabriel/episode-tracker/backend/internal/repository"
	"github.com/gabriel/episode-tracker/backend/internal/sources"
	"github.com/gabriel/episode-tracker/backend/internal/tracker"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/mo"
)

type fakeSource struct {
	key      string
	episodes []float64
}

func (f *fakeSource) Key() string  { return f.key }
func (f *fakeSource) Name() string { return "Fake " + f.key }
func (f *fakeSource) Kind() string { return sources.KindEpisodic }
func (f *fakeSource) FirstEpisodeNumber(context.Context, string) mo.Option[float64] {
	return mo.Some(f.episodes[0])
}
func (f *fakeSource) LastEpisodeNumber(context.Context, string) mo.Option[float64] {
	return mo.Some(f.episodes[len(f.episodes)-1])
}
func (f *fakeSource) EpisodeURL(_ context.Context, titleID string, number float64) mo.Option[string] {
	return mo.Some(f.url(titleID, number))
}
func (f *fakeSource) AllEpisodeURLs(_ context.Context, titleID string) []sources.EpisodeURL {
	out := make([]sources.EpisodeURL, 0, len(f.episodes))
	for _, number := range f.episodes {
		out = append(out, sources.EpisodeURL{Number: number, URL: f.url(titleID, number)})
	}
	return out
}
func (f *fakeSource) url(titleID string, number float64) string {
	return fmt.Sprintf("https://%s.test/%s-episode-%s", f.key, titleID, sources.FormatNumber(number))
}

type testApp struct {
	db      *sql.DB
	app     *fiber.App
	service *tracker.Service
	hub     *events.Hub
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	_, currentFile, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(currentFile), "..", "..", "..", "migrations")
	if err := database.ApplyMigrations(db, migrationsPath); err != nil {
		_ = db.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	if err := database.SeedDefaults(db, []string{"gogoanime", "otakustream"}); err != nil {
		_ = db.Close()
		t.Fatalf("seed defaults: %v", err)
	}

	registry := sources.NewRegistry()
	if err := registry.Register(&fakeSource{key: "gogoanime", episodes: []float64{1, 2, 3}}); err != nil {
		t.Fatalf("register source: %v", err)
	}

	recorder := metrics.New()
	hub := events.NewHub(nil)
	service := tracker.NewService(
		repository.NewTitleRepository(db),
		aggregator.New(registry, recorder, nil),
		hub,
		nil,
	)

	app := apihttp.NewServer(config.Config{AppName: "test-app"}, apihttp.Dependencies{
		DB:       db,
		Registry: registry,
		Service:  service,
		Hub:      hub,
		Metrics:  recorder,
	})

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = db.Close()
	})

	return &testApp{db: db, app: app, service: service, hub: hub}
}

func ptr(value string) *string {
	return &value
}
