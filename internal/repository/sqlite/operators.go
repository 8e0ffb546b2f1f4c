package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
)

type operatorStore struct {
	db *sql.DB
}

const operatorSelectSQL = `SELECT id, device_identifier, status, token_fingerprint, permissions,
	registered_at, approved_at, last_seen_at FROM operator_registrations`

func (s *operatorStore) Get(ctx context.Context, id string) (*model.OperatorRegistration, error) {
	row := s.db.QueryRowContext(ctx, operatorSelectSQL+" WHERE id = ?", id)
	return scanOperator(row)
}

func (s *operatorStore) GetByTokenFingerprint(ctx context.Context, fingerprint string) (*model.OperatorRegistration, error) {
	row := s.db.QueryRowContext(ctx, operatorSelectSQL+" WHERE token_fingerprint = ?", fingerprint)
	return scanOperator(row)
}

// scanTarget is satisfied by both *sql.Row and *sql.Rows.
type scanTarget interface {
	Scan(dest ...interface{}) error
}

func scanOperator(row *sql.Row) (*model.OperatorRegistration, error) {
	o, err := scanOperatorRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func scanOperatorRow(row scanTarget) (*model.OperatorRegistration, error) {
	var o model.OperatorRegistration
	var approvedAt, lastSeenAt sql.NullTime
	var permsJSON string

	err := row.Scan(&o.ID, &o.DeviceIdentifier, &o.Status, &o.TokenFingerprint, &permsJSON,
		&o.RegisteredAt, &approvedAt, &lastSeenAt)
	if err != nil {
		return nil, errors.Wrap(err, "scanning operator row")
	}
	if approvedAt.Valid {
		o.ApprovedAt = &approvedAt.Time
	}
	if lastSeenAt.Valid {
		o.LastSeenAt = lastSeenAt.Time
	}

	var perms []string
	if err := json.Unmarshal([]byte(permsJSON), &perms); err != nil {
		return nil, errors.Wrap(err, "decoding permissions")
	}
	o.Permissions = make(map[model.Permission]bool, len(perms))
	for _, p := range perms {
		o.Permissions[model.Permission(p)] = true
	}
	return &o, nil
}

func (s *operatorStore) UpdateLastSeen(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE operator_registrations SET last_seen_at = ? WHERE id = ?", t, id)
	return errors.Wrap(err, "updating operator last_seen_at")
}

func (s *operatorStore) Create(ctx context.Context, o *model.OperatorRegistration) error {
	perms := make([]string, 0, len(o.Permissions))
	for p, on := range o.Permissions {
		if on {
			perms = append(perms, string(p))
		}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return errors.Wrap(err, "encoding permissions")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operator_registrations
			(id, device_identifier, status, token_fingerprint, permissions, registered_at, approved_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.DeviceIdentifier, o.Status, o.TokenFingerprint, string(permsJSON),
		o.RegisteredAt, o.ApprovedAt, nullIfZero(o.LastSeenAt))
	return errors.Wrap(err, "creating operator registration")
}

func (s *operatorStore) List(ctx context.Context) ([]*model.OperatorRegistration, error) {
	rows, err := s.db.QueryContext(ctx, operatorSelectSQL+" ORDER BY registered_at")
	if err != nil {
		return nil, errors.Wrap(err, "listing operator registrations")
	}
	defer rows.Close()

	var out []*model.OperatorRegistration
	for rows.Next() {
		o, err := scanOperatorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterating operator registrations")
}

func (s *operatorStore) UpdateStatus(ctx context.Context, id string, status model.OperatorStatus, approvedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE operator_registrations SET status = ?, approved_at = ? WHERE id = ?",
		status, approvedAt, id)
	return errors.Wrap(err, "updating operator status")
}

func nullIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
