package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
)

type scheduleStore struct {
	db *sql.DB
}

func (s *scheduleStore) List(ctx context.Context) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, layout_id, client_id, client_group, priority,
		start_hour, start_minute, end_hour, end_minute, days_of_week, valid_from, valid_until,
		is_active, modified FROM schedules`)
	if err != nil {
		return nil, errors.Wrap(err, "listing schedules")
	}
	defer rows.Close()

	var out []*model.Schedule
	for rows.Next() {
		var sc model.Schedule
		var clientID, clientGroup sql.NullString
		var validFrom, validUntil sql.NullTime
		var daysJSON string
		var isActive int

		if err := rows.Scan(&sc.ID, &sc.Name, &sc.LayoutID, &clientID, &clientGroup, &sc.Priority,
			&sc.StartTime.Hour, &sc.StartTime.Minute, &sc.EndTime.Hour, &sc.EndTime.Minute,
			&daysJSON, &validFrom, &validUntil, &isActive, &sc.Modified); err != nil {
			return nil, errors.Wrap(err, "scanning schedule row")
		}

		if clientID.Valid {
			sc.ClientID = &clientID.String
		}
		if clientGroup.Valid {
			sc.ClientGroup = &clientGroup.String
		}
		if validFrom.Valid {
			sc.ValidFrom = &validFrom.Time
		}
		if validUntil.Valid {
			sc.ValidUntil = &validUntil.Time
		}
		sc.IsActive = isActive != 0

		var days []int
		if err := json.Unmarshal([]byte(daysJSON), &days); err != nil {
			return nil, errors.Wrap(err, "decoding days_of_week")
		}
		sc.DaysOfWeek = make(map[model.Weekday]bool, len(days))
		for _, d := range days {
			sc.DaysOfWeek[model.Weekday(d)] = true
		}

		out = append(out, &sc)
	}
	return out, rows.Err()
}
