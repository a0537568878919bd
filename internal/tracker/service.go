// Package tracker owns the title list: it validates client requests, runs the
// aggregator and writes the merged result back to the store.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel/episode-tracker/backend/internal/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

const TitleListEvent = "title list data"

var ErrNotFound = errors.New("not found")

// ValidationError is a user-facing rejection of a request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type Store interface {
	ReadTitles(ctx context.Context) ([]models.Title, error)
	ReadSourceNames(ctx context.Context) ([]string, error)
	WriteTitle(ctx context.Context, title models.Title) error
	// ReplaceSources stores the source name list and the given titles
	// together, or nothing at all.
	ReplaceSources(ctx context.Context, names []string, titles []models.Title) error
	DeleteTitle(ctx context.Context, id string) error
}

type Resolver interface {
	ResolveAll(ctx context.Context, title models.Title, filter mo.Option[string]) []models.ResolvedEpisode
	ResolveOne(ctx context.Context, title models.Title, number float64) []models.SourceURL
}

type Broadcaster interface {
	Broadcast(name string, payload any)
}

type SaveTitleRequest struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	SourceMap map[string]*string `json:"sourceMap"`
	Active    bool               `json:"active"`
}

type WatchRequest struct {
	TitleName string  `json:"titleName"`
	Number    float64 `json:"number"`
	Watched   bool    `json:"watched"`
}

type RescanRequest struct {
	TitleName     string   `json:"titleName"`
	EpisodeNumber *float64 `json:"episodeNumber"`
}

// RescanReport lists the episode numbers a rescan appended to a title.
type RescanReport struct {
	TitleID string    `json:"titleId"`
	Title   string    `json:"title"`
	Added   []float64 `json:"added"`
}

type Service struct {
	store       Store
	resolver    Resolver
	broadcaster Broadcaster
	logger      *slog.Logger
	newID       func() string
	now         func() time.Time

	// writeMu serializes read-merge-write commits across connections and
	// the background rescanner. Aggregation runs outside it.
	writeMu sync.Mutex
}

func NewService(store Store, resolver Resolver, broadcaster Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		resolver:    resolver,
		broadcaster: broadcaster,
		logger:      logger,
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithIDGenerator(newID func() string) *Service {
	if newID != nil {
		s.newID = newID
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) ListTitles(ctx context.Context) ([]models.Title, error) {
	titles, err := s.store.ReadTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("read titles: %w", err)
	}
	return titles, nil
}

func (s *Service) ListSourceNames(ctx context.Context) ([]string, error) {
	names, err := s.store.ReadSourceNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source names: %w", err)
	}
	return names, nil
}

// SaveTitle creates a title when req.ID is empty and updates it otherwise.
// A create fills the episode list from every mapped source; an update keeps
// the stored episodes and refreshes the urls of those the sources still report.
func (s *Service) SaveTitle(ctx context.Context, req SaveTitleRequest) (models.Title, error) {
	name := strings.TrimSpace(req.Title)
	if name == "" {
		return models.Title{}, invalid("title must have a name")
	}

	names, err := s.ListSourceNames(ctx)
	if err != nil {
		return models.Title{}, err
	}
	draft := models.Title{
		ID:        strings.TrimSpace(req.ID),
		Title:     name,
		Active:    req.Active,
		SourceMap: NormalizeSourceMap(req.SourceMap, names),
	}

	if draft.ID == "" {
		return s.createTitle(ctx, draft)
	}
	return s.updateTitle(ctx, draft)
}

func (s *Service) createTitle(ctx context.Context, draft models.Title) (models.Title, error) {
	titles, err := s.ListTitles(ctx)
	if err != nil {
		return models.Title{}, err
	}
	if _, ok := findByName(titles, draft.Title); ok {
		return models.Title{}, invalid("a title named %q already exists", draft.Title)
	}

	resolved := s.resolver.ResolveAll(ctx, draft, mo.None[string]())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	titles, err = s.ListTitles(ctx)
	if err != nil {
		return models.Title{}, err
	}
	if _, ok := findByName(titles, draft.Title); ok {
		return models.Title{}, invalid("a title named %q already exists", draft.Title)
	}

	now := s.now()
	draft.ID = s.newID()
	draft.Episodes = lo.Map(resolved, func(item models.ResolvedEpisode, _ int) models.Episode {
		return models.Episode{Number: item.Number, URLs: item.URLs}
	})
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := s.store.WriteTitle(ctx, draft); err != nil {
		return models.Title{}, fmt.Errorf("write title: %w", err)
	}
	s.logger.Info("title created", "titleId", draft.ID, "title", draft.Title, "episodes", len(draft.Episodes))
	s.broadcastTitles(ctx)
	return draft, nil
}

func (s *Service) updateTitle(ctx context.Context, draft models.Title) (models.Title, error) {
	titles, err := s.ListTitles(ctx)
	if err != nil {
		return models.Title{}, err
	}
	if _, ok := findByID(titles, draft.ID); !ok {
		return models.Title{}, fmt.Errorf("no title with id %q: %w", draft.ID, ErrNotFound)
	}
	if existing, ok := findByName(titles, draft.Title); ok && existing.ID != draft.ID {
		return models.Title{}, invalid("a title named %q already exists", draft.Title)
	}

	resolved := s.resolver.ResolveAll(ctx, draft, mo.None[string]())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	titles, err = s.ListTitles(ctx)
	if err != nil {
		return models.Title{}, err
	}
	current, ok := findByID(titles, draft.ID)
	if !ok {
		return models.Title{}, fmt.Errorf("no title with id %q: %w", draft.ID, ErrNotFound)
	}
	if existing, ok := findByName(titles, draft.Title); ok && existing.ID != draft.ID {
		return models.Title{}, invalid("a title named %q already exists", draft.Title)
	}

	current.Title = draft.Title
	current.Active = draft.Active
	current.SourceMap = draft.SourceMap
	refreshURLs(&current, resolved)
	current.UpdatedAt = s.now()

	if err := s.store.WriteTitle(ctx, current); err != nil {
		return models.Title{}, fmt.Errorf("write title: %w", err)
	}
	s.logger.Info("title updated", "titleId", current.ID, "title", current.Title)
	s.broadcastTitles(ctx)
	return current, nil
}

// CreateSource adds a source name and maps every title to nothing on it.
func (s *Service) CreateSource(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("a source must have a name")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	names, err := s.ListSourceNames(ctx)
	if err != nil {
		return err
	}
	if lo.Contains(names, name) {
		return invalid("a source named %q already exists", name)
	}

	titles, err := s.ListTitles(ctx)
	if err != nil {
		return err
	}
	changed := make([]models.Title, 0, len(titles))
	for _, title := range titles {
		if title.SourceMap == nil {
			title.SourceMap = map[string]*string{}
		}
		if _, ok := title.SourceMap[name]; ok {
			continue
		}
		title.SourceMap[name] = nil
		changed = append(changed, title)
	}
	if err := s.store.ReplaceSources(ctx, append(names, name), changed); err != nil {
		return fmt.Errorf("add source %q: %w", name, err)
	}

	s.logger.Info("source created", "source", name)
	s.broadcastTitles(ctx)
	return nil
}

// DeleteSource removes a source name together with every mapping and url
// that refers to it.
func (s *Service) DeleteSource(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("a source must have a name")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	names, err := s.ListSourceNames(ctx)
	if err != nil {
		return err
	}
	if !lo.Contains(names, name) {
		return fmt.Errorf("no source named %q: %w", name, ErrNotFound)
	}

	titles, err := s.ListTitles(ctx)
	if err != nil {
		return err
	}
	changed := make([]models.Title, 0, len(titles))
	for _, title := range titles {
		if dropSource(&title, name) {
			changed = append(changed, title)
		}
	}
	if err := s.store.ReplaceSources(ctx, lo.Without(names, name), changed); err != nil {
		return fmt.Errorf("remove source %q: %w", name, err)
	}

	s.logger.Info("source deleted", "source", name)
	s.broadcastTitles(ctx)
	return nil
}

func (s *Service) SetWatched(ctx context.Context, req WatchRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	title, err := s.titleByName(ctx, req.TitleName)
	if err != nil {
		return err
	}
	index := title.EpisodeIndex(req.Number)
	if index < 0 {
		return fmt.Errorf("%q has no episode %s: %w", title.Title, formatNumber(req.Number), ErrNotFound)
	}
	if title.Episodes[index].Watched == req.Watched {
		return nil
	}

	title.Episodes[index].Watched = req.Watched
	title.UpdatedAt = s.now()
	if err := s.store.WriteTitle(ctx, title); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	s.broadcastTitles(ctx)
	return nil
}

// RescanEpisode replaces the urls of one stored episode with what the
// sources report now and returns them.
func (s *Service) RescanEpisode(ctx context.Context, titleName string, number float64) ([]models.SourceURL, error) {
	title, err := s.titleByName(ctx, titleName)
	if err != nil {
		return nil, err
	}
	if title.EpisodeIndex(number) < 0 {
		return nil, fmt.Errorf("%q has no episode %s: %w", title.Title, formatNumber(number), ErrNotFound)
	}

	urls := s.resolver.ResolveOne(ctx, title, number)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.titleByID(ctx, title.ID)
	if err != nil {
		return nil, err
	}
	index := current.EpisodeIndex(number)
	if index < 0 {
		return nil, fmt.Errorf("%q has no episode %s: %w", current.Title, formatNumber(number), ErrNotFound)
	}
	current.Episodes[index].URLs = urls
	current.UpdatedAt = s.now()
	if err := s.store.WriteTitle(ctx, current); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}
	s.broadcastTitles(ctx)
	return urls, nil
}

// RescanTitle refreshes the urls of every stored episode and appends the
// episodes the sources report that are not stored yet.
func (s *Service) RescanTitle(ctx context.Context, titleName string) (RescanReport, error) {
	title, err := s.titleByName(ctx, titleName)
	if err != nil {
		return RescanReport{}, err
	}
	report, err := s.rescan(ctx, title)
	if err != nil {
		return RescanReport{}, err
	}
	s.broadcastTitles(ctx)
	return report, nil
}

// RescanActive rescans every active title. A title that fails to commit is
// logged and skipped. Only titles that gained episodes are reported.
func (s *Service) RescanActive(ctx context.Context) ([]RescanReport, error) {
	titles, err := s.ListTitles(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]RescanReport, 0)
	scanned := 0
	for _, title := range titles {
		if !title.Active {
			continue
		}
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		scanned++
		report, err := s.rescan(ctx, title)
		if err != nil {
			s.logger.Warn("rescan failed", "titleId", title.ID, "error", err)
			continue
		}
		if len(report.Added) > 0 {
			reports = append(reports, report)
		}
	}

	if scanned > 0 {
		s.broadcastTitles(ctx)
	}
	return reports, nil
}

func (s *Service) rescan(ctx context.Context, title models.Title) (RescanReport, error) {
	resolved := s.resolver.ResolveAll(ctx, title, mo.None[string]())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.titleByID(ctx, title.ID)
	if err != nil {
		return RescanReport{}, err
	}
	added := mergeEpisodes(&current, resolved)
	current.UpdatedAt = s.now()
	if err := s.store.WriteTitle(ctx, current); err != nil {
		return RescanReport{}, fmt.Errorf("write title: %w", err)
	}

	if len(added) > 0 {
		s.logger.Info("rescan found new episodes", "titleId", current.ID, "title", current.Title, "added", len(added))
	}
	return RescanReport{TitleID: current.ID, Title: current.Title, Added: added}, nil
}

func (s *Service) DeleteTitle(ctx context.Context, titleName string) error {
	if strings.TrimSpace(titleName) == "" {
		return invalid("a title name is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	title, err := s.titleByName(ctx, titleName)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTitle(ctx, title.ID); err != nil {
		return fmt.Errorf("delete title: %w", err)
	}
	s.logger.Info("title deleted", "titleId", title.ID, "title", title.Title)
	s.broadcastTitles(ctx)
	return nil
}

func (s *Service) titleByName(ctx context.Context, name string) (models.Title, error) {
	if strings.TrimSpace(name) == "" {
		return models.Title{}, invalid("a title name is required")
	}
	titles, err := s.ListTitles(ctx)
	if err != nil {
		return models.Title{}, err
	}
	title, ok := findByName(titles, name)
	if !ok {
		return models.Title{}, fmt.Errorf("no title named %q: %w", name, ErrNotFound)
	}
	return title, nil
}

func (s *Service) titleByID(ctx context.Context, id string) (models.Title, error) {
	titles, err := s.ListTitles(ctx)
	if err != nil {
		return models.Title{}, err
	}
	title, ok := findByID(titles, id)
	if !ok {
		return models.Title{}, fmt.Errorf("no title with id %q: %w", id, ErrNotFound)
	}
	return title, nil
}

func (s *Service) broadcastTitles(ctx context.Context) {
	if s.broadcaster == nil {
		return
	}
	titles, err := s.ListTitles(ctx)
	if err != nil {
		s.logger.Warn("broadcast skipped", "error", err)
		return
	}
	s.broadcaster.Broadcast(TitleListEvent, titles)
}

// NormalizeSourceMap keeps exactly one entry per known source name. Missing,
// blank and unknown entries become nil or are dropped.
func NormalizeSourceMap(requested map[string]*string, names []string) map[string]*string {
	out := make(map[string]*string, len(names))
	for _, name := range names {
		value, ok := requested[name]
		if !ok || value == nil || strings.TrimSpace(*value) == "" {
			out[name] = nil
			continue
		}
		trimmed := strings.TrimSpace(*value)
		out[name] = &trimmed
	}
	return out
}

func findByName(titles []models.Title, name string) (models.Title, bool) {
	return lo.Find(titles, func(item models.Title) bool { return item.Title == name })
}

func findByID(titles []models.Title, id string) (models.Title, bool) {
	return lo.Find(titles, func(item models.Title) bool { return item.ID == id })
}

// refreshURLs replaces the urls of stored episodes that were resolved again.
func refreshURLs(title *models.Title, resolved []models.ResolvedEpisode) {
	for _, item := range resolved {
		if index := title.EpisodeIndex(item.Number); index >= 0 {
			title.Episodes[index].URLs = item.URLs
		}
	}
}

// mergeEpisodes refreshes stored episodes, appends unknown ones unwatched and
// keeps the list ascending. It returns the appended numbers.
func mergeEpisodes(title *models.Title, resolved []models.ResolvedEpisode) []float64 {
	added := make([]float64, 0)
	for _, item := range resolved {
		if index := title.EpisodeIndex(item.Number); index >= 0 {
			title.Episodes[index].URLs = item.URLs
			continue
		}
		title.Episodes = append(title.Episodes, models.Episode{Number: item.Number, URLs: item.URLs})
		added = append(added, item.Number)
	}
	sort.SliceStable(title.Episodes, func(i, j int) bool {
		return title.Episodes[i].Number < title.Episodes[j].Number
	})
	return added
}

func dropSource(title *models.Title, name string) bool {
	changed := false
	if _, ok := title.SourceMap[name]; ok {
		delete(title.SourceMap, name)
		changed = true
	}
	for index := range title.Episodes {
		kept := lo.Filter(title.Episodes[index].URLs, func(item models.SourceURL, _ int) bool {
			return item.Source != name
		})
		if len(kept) != len(title.Episodes[index].URLs) {
			title.Episodes[index].URLs = kept
			changed = true
		}
	}
	return changed
}

func formatNumber(number float64) string {
	return fmt.Sprintf("%g", number)
}
