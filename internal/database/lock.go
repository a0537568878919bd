package database

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

var ErrLocked = errors.New("database is in use by another process")

// AcquireLock takes an exclusive lock next to the sqlite file so only one
// process writes the title list at a time. The returned func releases it.
func AcquireLock(sqlitePath string) (func() error, error) {
	lock := flock.New(sqlitePath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), ErrLocked)
	}
	return lock.Unlock, nil
}
