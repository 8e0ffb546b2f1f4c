package sqlite

import (
	"database/sql"

	"github.com/skylinesignage/fleetd/internal/repository"
)

// Repository is the sqlite-backed implementation of repository.Repository.
type Repository struct {
	db        *sql.DB
	clients   *clientStore
	layouts   *layoutStore
	schedules *scheduleStore
	tokens    *tokenStore
	operators *operatorStore
}

// New opens path (running migrations) and wires every facet store against
// the same *sql.DB.
func New(path string) (*Repository, error) {
	db, err := OpenWithMigrations(path)
	if err != nil {
		return nil, err
	}
	return &Repository{
		db:        db,
		clients:   &clientStore{db: db},
		layouts:   &layoutStore{db: db},
		schedules: &scheduleStore{db: db},
		tokens:    &tokenStore{db: db},
		operators: &operatorStore{db: db},
	}, nil
}

func (r *Repository) Clients() repository.Clients     { return r.clients }
func (r *Repository) Layouts() repository.Layouts     { return r.layouts }
func (r *Repository) Schedules() repository.Schedules { return r.schedules }
func (r *Repository) Tokens() repository.Tokens       { return r.tokens }
func (r *Repository) Operators() repository.Operators { return r.operators }

func (r *Repository) Close() error { return r.db.Close() }
