package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel/episode-tracker/backend/internal/notifications"
	"github.com/gabriel/episode-tracker/backend/internal/tracker"
)

type rescanService interface {
	RescanActive(ctx context.Context) ([]tracker.RescanReport, error)
}

// Rescanner periodically refreshes every active title and notifies about
// episodes that appeared since the previous run.
type Rescanner struct {
	service  rescanService
	notifier notifications.Notifier
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

type RescannerConfig struct {
	Interval time.Duration
}

func NewRescanner(service rescanService, notifier notifications.Notifier, cfg RescannerConfig, logger *slog.Logger) *Rescanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Minute
	}
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Rescanner{
		service:  service,
		notifier: notifier,
		interval: cfg.Interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (r *Rescanner) Start(ctx context.Context) {
	r.logger.Info("rescanner started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Warn("rescanner initial run failed", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("rescanner stopped")
				close(r.stopCh)
				return
			case <-ticker.C:
				if err := r.RunOnce(ctx); err != nil {
					r.logger.Warn("rescanner cycle failed", "error", err)
				}
			}
		}
	}()
}

func (r *Rescanner) StopWait(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	select {
	case <-r.stopCh:
	case <-time.After(timeout):
	}
}

func (r *Rescanner) RunOnce(ctx context.Context) error {
	started := time.Now()
	reports, err := r.service.RescanActive(ctx)
	if err != nil {
		return fmt.Errorf("rescan active titles: %w", err)
	}

	for _, report := range reports {
		if len(report.Added) == 0 {
			continue
		}
		message := notifications.NewEpisodesMessage(report.TitleID, report.Title, report.Added)
		if err := r.notifier.Notify(ctx, message); err != nil {
			r.logger.Warn("rescan notification failed", "titleId", report.TitleID, "error", err)
		}
	}

	r.logger.Debug("rescan cycle finished", "updatedTitles", len(reports), "elapsed", time.Since(started).String())
	return nil
}
