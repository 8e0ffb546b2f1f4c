// Package sqlite is the default Repository Port implementation, a single
// relational file holding all persistent state. Grounded on the teacher's
// db/connection.go: WAL journal mode, a busy_timeout pragma, and foreign
// keys on, opened through github.com/mattn/go-sqlite3.
package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
)

const (
	journalMode      = "WAL"
	busyTimeoutMillis = 5000
)

var log = logger.With(logger.SubsystemRepository)

// Open opens (creating if absent) a SQLite database at path with the
// pragmas the core's concurrency model assumes: concurrent readers during
// writes (WAL) and a bounded wait for contended writers rather than an
// immediate SQLITE_BUSY.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database at %s", path)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = " + journalMode,
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "executing %q", pragma)
		}
	}

	log.Infow("database opened", "path", path, "journal_mode", journalMode)
	return db, nil
}

// OpenWithMigrations opens the database and brings its schema up to date.
func OpenWithMigrations(path string) (*sql.DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}
	return db, nil
}
