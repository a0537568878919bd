package database

import (
	"database/sql"
	"fmt"
)

// SeedDefaults registers the given source names when none are known yet.
// Names removed later by the user are not brought back.
func SeedDefaults(db *sql.DB, sourceNames []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM source_names`).Scan(&count); err != nil {
		tx.Rollback()
		return fmt.Errorf("count source names: %w", err)
	}
	if count > 0 {
		tx.Rollback()
		return nil
	}

	for position, name := range sourceNames {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO source_names (name, position)
			VALUES (?, ?)
		`, name, position)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("seed source %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}

	return nil
}
