package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
)

type clientStore struct {
	db *sql.DB
}

func (s *clientStore) Get(ctx context.Context, id string) (*model.Client, error) {
	row := s.db.QueryRowContext(ctx, clientSelectSQL+" WHERE id = ?", id)
	return scanClient(row)
}

func (s *clientStore) GetByMac(ctx context.Context, mac string) (*model.Client, error) {
	row := s.db.QueryRowContext(ctx, clientSelectSQL+" WHERE mac_address = ?", mac)
	return scanClient(row)
}

const clientSelectSQL = `SELECT id, name, mac_address, ip_address, hostname, group_name, location,
	status, last_seen_at, assigned_layout_id, device_info, metadata FROM clients`

func scanClient(row *sql.Row) (*model.Client, error) {
	var c model.Client
	var mac, assignedLayoutID sql.NullString
	var lastSeenAt sql.NullTime
	var deviceInfoJSON, metadataJSON string

	err := row.Scan(&c.ID, &c.Name, &mac, &c.IPAddress, &c.Hostname, &c.Group, &c.Location,
		&c.Status, &lastSeenAt, &assignedLayoutID, &deviceInfoJSON, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning client row")
	}

	c.MacAddress = mac.String
	if assignedLayoutID.Valid {
		c.AssignedLayoutID = &assignedLayoutID.String
	}
	if lastSeenAt.Valid {
		c.LastSeenAt = lastSeenAt.Time
	}
	if err := json.Unmarshal([]byte(deviceInfoJSON), &c.DeviceInfo); err != nil {
		return nil, errors.Wrap(err, "decoding device_info")
	}
	if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
		return nil, errors.Wrap(err, "decoding metadata")
	}
	return &c, nil
}

func (s *clientStore) Upsert(ctx context.Context, c *model.Client) error {
	deviceInfoJSON, err := json.Marshal(c.DeviceInfo)
	if err != nil {
		return errors.Wrap(err, "encoding device_info")
	}
	metadataJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return errors.Wrap(err, "encoding metadata")
	}
	var assignedLayoutID interface{}
	if c.AssignedLayoutID != nil {
		assignedLayoutID = *c.AssignedLayoutID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, mac_address, ip_address, hostname, group_name, location,
			status, last_seen_at, assigned_layout_id, device_info, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, mac_address=excluded.mac_address, ip_address=excluded.ip_address,
			hostname=excluded.hostname, group_name=excluded.group_name, location=excluded.location,
			status=excluded.status, last_seen_at=excluded.last_seen_at,
			assigned_layout_id=excluded.assigned_layout_id, device_info=excluded.device_info,
			metadata=excluded.metadata`,
		c.ID, c.Name, nullIfEmpty(c.MacAddress), c.IPAddress, c.Hostname, c.Group, c.Location,
		c.Status, c.LastSeenAt, assignedLayoutID, string(deviceInfoJSON), string(metadataJSON))
	if err != nil {
		return errors.Wrap(err, "upserting client")
	}
	return nil
}

func (s *clientStore) List(ctx context.Context) ([]*model.Client, error) {
	rows, err := s.db.QueryContext(ctx, clientSelectSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing clients")
	}
	defer rows.Close()

	var out []*model.Client
	for rows.Next() {
		var c model.Client
		var mac, assignedLayoutID sql.NullString
		var lastSeenAt sql.NullTime
		var deviceInfoJSON, metadataJSON string
		if err := rows.Scan(&c.ID, &c.Name, &mac, &c.IPAddress, &c.Hostname, &c.Group, &c.Location,
			&c.Status, &lastSeenAt, &assignedLayoutID, &deviceInfoJSON, &metadataJSON); err != nil {
			return nil, errors.Wrap(err, "scanning client row")
		}
		c.MacAddress = mac.String
		if assignedLayoutID.Valid {
			c.AssignedLayoutID = &assignedLayoutID.String
		}
		if lastSeenAt.Valid {
			c.LastSeenAt = lastSeenAt.Time
		}
		json.Unmarshal([]byte(deviceInfoJSON), &c.DeviceInfo)
		json.Unmarshal([]byte(metadataJSON), &c.Metadata)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *clientStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM clients WHERE id = ?", id)
	return errors.Wrap(err, "deleting client")
}

func (s *clientStore) UpdateStatus(ctx context.Context, id string, status model.ClientStatus, info model.DeviceInfo, lastSeenAt time.Time) error {
	deviceInfoJSON, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "encoding device_info")
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE clients SET status = ?, device_info = ?, last_seen_at = ? WHERE id = ?",
		status, string(deviceInfoJSON), lastSeenAt, id)
	return errors.Wrap(err, "updating client status")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
