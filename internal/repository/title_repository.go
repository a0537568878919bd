package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gabriel/episode-tracker/backend/internal/models"
)

// TitleRepository stores titles and the list of known source names.
type TitleRepository struct {
	db *sql.DB
}

func NewTitleRepository(db *sql.DB) *TitleRepository {
	return &TitleRepository{db: db}
}

func (r *TitleRepository) ReadSourceNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name
		FROM source_names
		ORDER BY position ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list source names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan source name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source names: %w", err)
	}

	return names, nil
}

// WriteSourceNames replaces the known source names, keeping the given order.
func (r *TitleRepository) WriteSourceNames(ctx context.Context, names []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin source names tx: %w", err)
	}

	if err := writeSourceNames(ctx, tx, names); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit source names tx: %w", err)
	}

	return nil
}

// ReplaceSources stores the source name list and the given titles in one
// transaction. Nothing is written when any of it fails.
func (r *TitleRepository) ReplaceSources(ctx context.Context, names []string, titles []models.Title) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace sources tx: %w", err)
	}

	if err := writeSourceNames(ctx, tx, names); err != nil {
		tx.Rollback()
		return err
	}
	now := time.Now().UTC()
	for _, title := range titles {
		if err := writeTitle(ctx, tx, title, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("write title %s: %w", title.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace sources tx: %w", err)
	}

	return nil
}

func writeSourceNames(ctx context.Context, tx *sql.Tx, names []string) error {
	if len(names) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM source_names`); err != nil {
			return fmt.Errorf("clear source names: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM source_names
			WHERE name NOT IN (`+sqlPlaceholders(len(names))+`)
		`, stringArgs(names)...); err != nil {
			return fmt.Errorf("delete removed source names: %w", err)
		}
	}

	for position, name := range names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO source_names (name, position)
			VALUES (?, ?)
			ON CONFLICT(name)
			DO UPDATE SET position = excluded.position
		`, name, position); err != nil {
			return fmt.Errorf("upsert source name %s: %w", name, err)
		}
	}

	return nil
}

func (r *TitleRepository) ReadTitles(ctx context.Context) ([]models.Title, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, active, created_at, updated_at
		FROM titles
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	titles := make([]models.Title, 0)
	indexByID := make(map[string]int)
	for rows.Next() {
		var title models.Title
		var active bool
		if err := rows.Scan(&title.ID, &title.Title, &active, &title.CreatedAt, &title.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		title.Active = active
		title.SourceMap = map[string]*string{}
		title.Episodes = []models.Episode{}
		indexByID[title.ID] = len(titles)
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate titles: %w", err)
	}
	if len(titles) == 0 {
		return titles, nil
	}

	if err := r.loadSourceMaps(ctx, titles, indexByID); err != nil {
		return nil, err
	}
	if err := r.loadEpisodes(ctx, titles, indexByID); err != nil {
		return nil, err
	}

	return titles, nil
}

func (r *TitleRepository) loadSourceMaps(ctx context.Context, titles []models.Title, indexByID map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT title_id, source_name, item_id
		FROM title_sources
	`)
	if err != nil {
		return fmt.Errorf("list title sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var titleID, sourceName string
		var itemID sql.NullString
		if err := rows.Scan(&titleID, &sourceName, &itemID); err != nil {
			return fmt.Errorf("scan title source: %w", err)
		}
		index, ok := indexByID[titleID]
		if !ok {
			continue
		}
		if itemID.Valid {
			value := itemID.String
			titles[index].SourceMap[sourceName] = &value
		} else {
			titles[index].SourceMap[sourceName] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate title sources: %w", err)
	}

	return nil
}

func (r *TitleRepository) loadEpisodes(ctx context.Context, titles []models.Title, indexByID map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT title_id, number, watched
		FROM episodes
		ORDER BY title_id ASC, number ASC
	`)
	if err != nil {
		return fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	type episodeKey struct {
		titleID string
		number  float64
	}
	slots := make(map[episodeKey]int)
	for rows.Next() {
		var titleID string
		var episode models.Episode
		var watched bool
		if err := rows.Scan(&titleID, &episode.Number, &watched); err != nil {
			return fmt.Errorf("scan episode: %w", err)
		}
		index, ok := indexByID[titleID]
		if !ok {
			continue
		}
		episode.Watched = watched
		episode.URLs = []models.SourceURL{}
		slots[episodeKey{titleID: titleID, number: episode.Number}] = len(titles[index].Episodes)
		titles[index].Episodes = append(titles[index].Episodes, episode)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate episodes: %w", err)
	}
	rows.Close()

	urlRows, err := r.db.QueryContext(ctx, `
		SELECT title_id, number, source_name, url
		FROM episode_urls
		ORDER BY title_id ASC, number ASC, position ASC
	`)
	if err != nil {
		return fmt.Errorf("list episode urls: %w", err)
	}
	defer urlRows.Close()

	for urlRows.Next() {
		var titleID string
		var number float64
		var link models.SourceURL
		if err := urlRows.Scan(&titleID, &number, &link.Source, &link.URL); err != nil {
			return fmt.Errorf("scan episode url: %w", err)
		}
		index, ok := indexByID[titleID]
		if !ok {
			continue
		}
		slot, ok := slots[episodeKey{titleID: titleID, number: number}]
		if !ok {
			continue
		}
		titles[index].Episodes[slot].URLs = append(titles[index].Episodes[slot].URLs, link)
	}
	if err := urlRows.Err(); err != nil {
		return fmt.Errorf("iterate episode urls: %w", err)
	}

	return nil
}

// WriteTitle inserts or fully replaces one title, its source map and its
// episodes in a single transaction.
func (r *TitleRepository) WriteTitle(ctx context.Context, title models.Title) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write title tx: %w", err)
	}

	if err := writeTitle(ctx, tx, title, time.Now().UTC()); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write title tx: %w", err)
	}

	return nil
}

func writeTitle(ctx context.Context, tx *sql.Tx, title models.Title, now time.Time) error {
	createdAt := title.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := title.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO titles (id, title, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id)
		DO UPDATE SET
			title = excluded.title,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, title.ID, title.Title, title.Active, createdAt, updatedAt); err != nil {
		return fmt.Errorf("upsert title: %w", err)
	}

	for _, statement := range []string{
		`DELETE FROM episode_urls WHERE title_id = ?`,
		`DELETE FROM episodes WHERE title_id = ?`,
		`DELETE FROM title_sources WHERE title_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, statement, title.ID); err != nil {
			return fmt.Errorf("clear title children: %w", err)
		}
	}

	for sourceName, itemID := range title.SourceMap {
		var value sql.NullString
		if itemID != nil {
			value = sql.NullString{String: *itemID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO title_sources (title_id, source_name, item_id)
			VALUES (?, ?, ?)
		`, title.ID, sourceName, value); err != nil {
			return fmt.Errorf("insert title source %s: %w", sourceName, err)
		}
	}

	for _, episode := range title.Episodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO episodes (title_id, number, watched)
			VALUES (?, ?, ?)
		`, title.ID, episode.Number, episode.Watched); err != nil {
			return fmt.Errorf("insert episode %v: %w", episode.Number, err)
		}
		for position, link := range episode.URLs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO episode_urls (title_id, number, position, source_name, url)
				VALUES (?, ?, ?, ?, ?)
			`, title.ID, episode.Number, position, link.Source, link.URL); err != nil {
				return fmt.Errorf("insert episode url: %w", err)
			}
		}
	}

	return nil
}

func (r *TitleRepository) DeleteTitle(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete title tx: %w", err)
	}

	for _, statement := range []string{
		`DELETE FROM episode_urls WHERE title_id = ?`,
		`DELETE FROM episodes WHERE title_id = ?`,
		`DELETE FROM title_sources WHERE title_id = ?`,
		`DELETE FROM titles WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, statement, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete title: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete title tx: %w", err)
	}

	return nil
}
