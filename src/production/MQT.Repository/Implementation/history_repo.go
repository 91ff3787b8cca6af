package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

type PostgresHistoryRepository struct {
	db *sql.DB
}

func NewPostgresHistoryRepository(db *sql.DB) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

func (r *PostgresHistoryRepository) Append(ctx context.Context, deviceID int64, pos mqtmodels.Position) (*mqtmodels.PositionSample, error) {
	query := `
		INSERT INTO device_history (device_id, latitude, longitude)
		VALUES ($1, $2, $3)
		RETURNING id, timestamp
	`

	sample := mqtmodels.PositionSample{DeviceID: deviceID, Latitude: pos.Latitude, Longitude: pos.Longitude}
	if err := r.db.QueryRowContext(ctx, query, deviceID, pos.Latitude, pos.Longitude).Scan(&sample.ID, &sample.Timestamp); err != nil {
		return nil, fmt.Errorf("append history for device %d: %w", deviceID, mapPQError(err))
	}
	sample.Timestamp = sample.Timestamp.UTC()
	return &sample, nil
}

func (r *PostgresHistoryRepository) ListByDevice(ctx context.Context, deviceID int64, order mqtmodels.SortOrder) iter.Seq2[mqtmodels.PositionSample, error] {
	direction := "DESC"
	if order == mqtmodels.OrderAscending {
		direction = "ASC"
	}
	query := fmt.Sprintf(`
		SELECT id, device_id, latitude, longitude, timestamp
		FROM device_history
		WHERE device_id = $1
		ORDER BY timestamp %[1]s, id %[1]s
	`, direction)

	return func(yield func(mqtmodels.PositionSample, error) bool) {
		rows, err := r.db.QueryContext(ctx, query, deviceID)
		if err != nil {
			yield(mqtmodels.PositionSample{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var s mqtmodels.PositionSample
			if err := rows.Scan(&s.ID, &s.DeviceID, &s.Latitude, &s.Longitude, &s.Timestamp); err != nil {
				yield(mqtmodels.PositionSample{}, err)
				return
			}
			s.Timestamp = s.Timestamp.UTC()
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(mqtmodels.PositionSample{}, err)
		}
	}
}
