package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/gabriel/episode-tracker/backend/internal/config"
	"github.com/gabriel/episode-tracker/backend/internal/database"
	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/gabriel/episode-tracker/backend/internal/repository"
	sourcedefaults "github.com/gabriel/episode-tracker/backend/internal/sources/defaults"
	"github.com/gabriel/episode-tracker/backend/internal/tracker"
)

func main() {
	var apply bool
	flag.BoolVar(&apply, "apply", false, "Apply cleanup changes. Without this flag, the command is a dry-run preview.")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	release, err := database.AcquireLock(cfg.SQLitePath)
	if err != nil {
		slog.Error("failed to lock database; stop the api first", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer release()

	db, err := database.Open(cfg.SQLitePath)
	if err != nil {
		slog.Error("failed to open sqlite", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.ApplyMigrations(db, cfg.MigrationsPath); err != nil {
		slog.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	service := tracker.NewService(repository.NewTitleRepository(db), nil, nil, logger)

	known, err := service.ListSourceNames(ctx)
	if err != nil {
		slog.Error("failed to list source names", "error", err)
		os.Exit(1)
	}

	supported := sourcedefaults.Names()
	slog.Info("loaded supported sources from registry", "count", len(supported), "names", supported)

	stale := staleSourceNames(known, supported)
	if len(stale) == 0 {
		slog.Info("no stale sources found; nothing to clean")
		return
	}

	titles, err := service.ListTitles(ctx)
	if err != nil {
		slog.Error("failed to list titles", "error", err)
		os.Exit(1)
	}
	for _, name := range stale {
		slog.Info("stale source detected", "source", name, "mapped_titles", countMappedTitles(titles, name))
	}

	if !apply {
		slog.Info("dry-run complete", "stale_sources", len(stale))
		return
	}

	for _, name := range stale {
		if err := service.DeleteSource(ctx, name); err != nil {
			slog.Error("failed to delete stale source", "source", name, "error", err)
			os.Exit(1)
		}
	}

	slog.Info("cleanup completed", "deleted_sources", len(stale))
}

// staleSourceNames returns the known names no built-in handler serves, in
// their stored order.
func staleSourceNames(known []string, supported []string) []string {
	supportedSet := make(map[string]struct{}, len(supported))
	for _, name := range supported {
		supportedSet[normalizeSourceKey(name)] = struct{}{}
	}

	stale := make([]string, 0)
	for _, name := range known {
		if _, ok := supportedSet[normalizeSourceKey(name)]; ok {
			continue
		}
		stale = append(stale, name)
	}
	return stale
}

func countMappedTitles(titles []models.Title, source string) int {
	count := 0
	for _, title := range titles {
		if _, ok := title.SourceItemID(source); ok {
			count++
		}
	}
	return count
}

func normalizeSourceKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
