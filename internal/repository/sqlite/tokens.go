package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
)

type tokenStore struct {
	db *sql.DB
}

const tokenSelectSQL = `SELECT fingerprint, expires_at, max_uses, used_count, restricted_to_group,
	restricted_to_location, restricted_to_mac, is_active FROM registration_tokens`

func (s *tokenStore) GetByFingerprint(ctx context.Context, fingerprint string) (*model.RegistrationToken, error) {
	row := s.db.QueryRowContext(ctx, tokenSelectSQL+" WHERE fingerprint = ?", fingerprint)
	var t model.RegistrationToken
	var isActive int
	err := row.Scan(&t.Fingerprint, &t.ExpiresAt, &t.MaxUses, &t.UsedCount, &t.RestrictedToGroup,
		&t.RestrictedToLocation, &t.RestrictedToMac, &isActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning token row")
	}
	t.IsActive = isActive != 0
	return &t, nil
}

// Consume performs validate-and-consume as a single atomic operation: a
// single UPDATE whose WHERE clause re-checks every acceptance condition,
// so concurrent registrations against the same token cannot both observe
// usedCount < maxUses and both commit — SQLite serializes writers, and
// exactly one such UPDATE affects a row per valid use.
func (s *tokenStore) Consume(ctx context.Context, fingerprint string) (model.ConsumeResult, error) {
	t, err := s.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return model.ConsumeResult{}, err
	}
	if t == nil {
		return model.ConsumeResult{Consumed: false, Reason: "not_found"}, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE registration_tokens
		SET used_count = used_count + 1
		WHERE fingerprint = ? AND is_active = 1 AND used_count < max_uses AND expires_at > ?`,
		fingerprint, time.Now())
	if err != nil {
		return model.ConsumeResult{}, errors.Wrap(err, "consuming token")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.ConsumeResult{}, errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		switch {
		case !t.IsActive:
			return model.ConsumeResult{Consumed: false, Reason: "inactive"}, nil
		case !t.ExpiresAt.After(time.Now()):
			return model.ConsumeResult{Consumed: false, Reason: "expired"}, nil
		default:
			return model.ConsumeResult{Consumed: false, Reason: "exhausted"}, nil
		}
	}
	return model.ConsumeResult{Consumed: true}, nil
}

func (s *tokenStore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM registration_tokens WHERE fingerprint = ?", fingerprint)
	return errors.Wrap(err, "deleting token")
}

func (s *tokenStore) Create(ctx context.Context, t *model.RegistrationToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registration_tokens (fingerprint, expires_at, max_uses, used_count,
			restricted_to_group, restricted_to_location, restricted_to_mac, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Fingerprint, t.ExpiresAt, t.MaxUses, t.UsedCount,
		t.RestrictedToGroup, t.RestrictedToLocation, t.RestrictedToMac, t.IsActive)
	return errors.Wrap(err, "creating token")
}

func (s *tokenStore) List(ctx context.Context) ([]*model.RegistrationToken, error) {
	rows, err := s.db.QueryContext(ctx, tokenSelectSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing tokens")
	}
	defer rows.Close()

	var out []*model.RegistrationToken
	for rows.Next() {
		var t model.RegistrationToken
		var isActive int
		if err := rows.Scan(&t.Fingerprint, &t.ExpiresAt, &t.MaxUses, &t.UsedCount, &t.RestrictedToGroup,
			&t.RestrictedToLocation, &t.RestrictedToMac, &isActive); err != nil {
			return nil, errors.Wrap(err, "scanning token row")
		}
		t.IsActive = isActive != 0
		out = append(out, &t)
	}
	return out, rows.Err()
}
