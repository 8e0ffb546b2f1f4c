package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
)

type layoutStore struct {
	db *sql.DB
}

const layoutSelectSQL = `SELECT id, name, resolution, elements, tags, category, version, created, modified FROM layouts`

func (s *layoutStore) Get(ctx context.Context, id string) (*model.Layout, error) {
	row := s.db.QueryRowContext(ctx, layoutSelectSQL+" WHERE id = ?", id)
	l, err := scanLayout(row)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanLayout(row *sql.Row) (*model.Layout, error) {
	var l model.Layout
	var elementsJSON, tagsJSON string
	err := row.Scan(&l.ID, &l.Name, &l.Resolution, &elementsJSON, &tagsJSON, &l.Category, &l.Version, &l.Created, &l.Modified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning layout row")
	}
	if err := json.Unmarshal([]byte(elementsJSON), &l.Elements); err != nil {
		return nil, errors.Wrap(err, "decoding elements")
	}
	if err := json.Unmarshal([]byte(tagsJSON), &l.Tags); err != nil {
		return nil, errors.Wrap(err, "decoding tags")
	}
	return &l, nil
}

func (s *layoutStore) List(ctx context.Context) ([]*model.Layout, error) {
	rows, err := s.db.QueryContext(ctx, layoutSelectSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing layouts")
	}
	defer rows.Close()

	var out []*model.Layout
	for rows.Next() {
		var l model.Layout
		var elementsJSON, tagsJSON string
		if err := rows.Scan(&l.ID, &l.Name, &l.Resolution, &elementsJSON, &tagsJSON, &l.Category, &l.Version, &l.Created, &l.Modified); err != nil {
			return nil, errors.Wrap(err, "scanning layout row")
		}
		json.Unmarshal([]byte(elementsJSON), &l.Elements)
		json.Unmarshal([]byte(tagsJSON), &l.Tags)
		out = append(out, &l)
	}
	return out, rows.Err()
}
