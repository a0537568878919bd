package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabriel/episode-tracker/backend/internal/aggregator"
	"github.com/gabriel/episode-tracker/backend/internal/config"
	"github.com/gabriel/episode-tracker/backend/internal/database"
	"github.com/gabriel/episode-tracker/backend/internal/events"
	apihttp "github.com/gabriel/episode-tracker/backend/internal/http"
	"github.com/gabriel/episode-tracker/backend/internal/metrics"
	"github.com/gabriel/episode-tracker/backend/internal/notifications"
	"github.com/gabriel/episode-tracker/backend/internal/repository"
	"github.com/gabriel/episode-tracker/backend/internal/scheduler"
	"github.com/gabriel/episode-tracker/backend/internal/sources"
	sourcedefaults "github.com/gabriel/episode-tracker/backend/internal/sources/defaults"
	"github.com/gabriel/episode-tracker/backend/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	release, err := database.AcquireLock(cfg.SQLitePath)
	if err != nil {
		slog.Error("failed to lock database", "path", cfg.SQLitePath, "error", err)
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

	if cfg.SeedDefaultData {
		if err := database.SeedDefaults(db, sourcedefaults.Names()); err != nil {
			slog.Error("failed to seed defaults", "error", err)
			os.Exit(1)
		}
	}

	overrides, overridesErr := sourcedefaults.LoadOverrides(cfg.SourcesConfigPath)
	if overridesErr != nil {
		slog.Warn("source overrides loaded with warnings", "path", cfg.SourcesConfigPath, "error", overridesErr)
	}

	recorder := metrics.New()
	registry := sourcedefaults.NewRegistry(sourcedefaults.Options{
		Fetcher:   sources.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout}),
		Overrides: overrides,
		Observer:  recorder,
	})
	slog.Info("source handlers registered", "sources", registry.Names())

	hub := events.NewHub(logger)
	service := tracker.NewService(
		repository.NewTitleRepository(db),
		aggregator.New(registry, recorder, logger),
		hub,
		logger,
	)

	app := apihttp.NewServer(cfg, apihttp.Dependencies{
		DB:       db,
		Registry: registry,
		Service:  service,
		Hub:      hub,
		Metrics:  recorder,
		Logger:   logger,
	})

	var notifier notifications.Notifier = notifications.NewLogNotifier(logger)
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notifications.NewWebhookNotifier(cfg.NotifyWebhookURL)
		if err != nil {
			slog.Error("invalid notification webhook", "error", err)
			os.Exit(1)
		}
		notifier = notifications.NewMultiNotifier(notifier, webhook)
	}

	rescanCtx, rescanCancel := context.WithCancel(context.Background())
	rescanner := scheduler.NewRescanner(
		service,
		notifier,
		scheduler.RescannerConfig{
			Interval: time.Duration(cfg.RescanMinutes) * time.Minute,
		},
		slog.Default(),
	)
	if cfg.RescanEnabled {
		rescanner.Start(rescanCtx)
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	slog.Info("api started", "port", cfg.Port, "env", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down server")
	rescanCancel()
	if cfg.RescanEnabled {
		rescanner.StopWait(2 * time.Second)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
