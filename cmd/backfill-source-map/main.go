package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"sort"

	"github.com/gabriel/episode-tracker/backend/internal/config"
	"github.com/gabriel/episode-tracker/backend/internal/database"
	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/gabriel/episode-tracker/backend/internal/repository"
	"github.com/samber/lo"
)

type sourceMapChange struct {
	title       models.Title
	added       []string
	removed     []string
	droppedURLs int
}

func main() {
	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "Only report the titles that would change.")
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
	repo := repository.NewTitleRepository(db)

	names, err := repo.ReadSourceNames(ctx)
	if err != nil {
		slog.Error("failed to list source names", "error", err)
		os.Exit(1)
	}
	titles, err := repo.ReadTitles(ctx)
	if err != nil {
		slog.Error("failed to list titles", "error", err)
		os.Exit(1)
	}

	changes := planBackfill(titles, names)
	for _, change := range changes {
		slog.Info(
			"title source map out of date",
			"title_id", change.title.ID,
			"title", change.title.Title,
			"added", change.added,
			"removed", change.removed,
			"dropped_urls", change.droppedURLs,
		)
	}

	if dryRun {
		slog.Info("dry-run complete", "titles", len(titles), "titles_to_update", len(changes))
		return
	}

	updated := 0
	for _, change := range changes {
		if err := repo.WriteTitle(ctx, change.title); err != nil {
			slog.Warn("failed to update title", "title_id", change.title.ID, "error", err)
			continue
		}
		updated++
	}

	slog.Info("backfill completed", "titles", len(titles), "updated", updated, "failed", len(changes)-updated)
}

// planBackfill gives every title exactly one source map entry per known
// source name. Missing names get a nil entry, and unknown ones are dropped
// together with the episode urls tagged with them.
func planBackfill(titles []models.Title, names []string) []sourceMapChange {
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}

	changes := make([]sourceMapChange, 0)
	for _, title := range titles {
		next := make(map[string]*string, len(names))
		var added, removed []string

		for _, name := range names {
			value, ok := title.SourceMap[name]
			if !ok {
				added = append(added, name)
			}
			next[name] = value
		}
		for name := range title.SourceMap {
			if _, ok := known[name]; !ok {
				removed = append(removed, name)
			}
		}

		dropped := 0
		episodes := make([]models.Episode, len(title.Episodes))
		for index, episode := range title.Episodes {
			kept := lo.Filter(episode.URLs, func(link models.SourceURL, _ int) bool {
				_, ok := known[link.Source]
				return ok
			})
			dropped += len(episode.URLs) - len(kept)
			episode.URLs = kept
			episodes[index] = episode
		}

		if len(added) == 0 && len(removed) == 0 && dropped == 0 {
			continue
		}
		sort.Strings(removed)
		title.SourceMap = next
		title.Episodes = episodes
		changes = append(changes, sourceMapChange{title: title, added: added, removed: removed, droppedURLs: dropped})
	}

	return changes
}
