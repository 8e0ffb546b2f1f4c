package sqlite

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skylinesignage/fleetd/internal/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every pending migration in order, grounded on the
// teacher's db/migrate.go: a schema_migrations table tracks applied
// versions, each file runs inside its own transaction.
func Migrate(db *sql.DB) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "reading migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.Split(filename, "_")[0]

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil && version != "000" {
			return errors.Newf("schema_migrations missing but migration is not 000: %s", filename)
		}
		if exists {
			continue
		}

		sqlBytes, err := migrations.ReadFile(filepath.Join("migrations", filename))
		if err != nil {
			return errors.Wrapf(err, "reading %s", filename)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "beginning tx for %s", filename)
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "executing %s", filename)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "recording %s", filename)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "committing %s", filename)
		}
		log.Infow("applied migration", "migration", filename)
	}

	return nil
}
