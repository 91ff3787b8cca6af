package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

// EnsureDevice relies on the unique name constraint: the losing side of a
// concurrent insert sees DO NOTHING and falls through to the lookup.
func (r *PostgresDeviceRepository) EnsureDevice(ctx context.Context, name, deviceType string, initial *mqtmodels.Position) (int64, bool, error) {
	query := `
		INSERT INTO devices (name, type, status, last_latitude, last_longitude, last_seen)
		VALUES ($1, $2, $3, $4, $5, CASE WHEN $4::double precision IS NULL THEN NULL ELSE now() END)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`

	lat, lon := nullablePosition(initial)

	var id int64
	err := r.db.QueryRowContext(ctx, query, name, deviceType, string(mqtmodels.StatusActive), lat, lon).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("insert device %s: %w", name, mapPQError(err))
	}

	if err := r.db.QueryRowContext(ctx, `SELECT id FROM devices WHERE name = $1`, name).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("lookup device %s: %w", name, err)
	}
	return id, false, nil
}

func (r *PostgresDeviceRepository) RecordPosition(ctx context.Context, id int64, pos mqtmodels.Position) error {
	query := `
		UPDATE devices
		SET last_latitude = $2, last_longitude = $3, last_seen = now()
		WHERE id = $1
	`
	return requireAffected(r.db.ExecContext(ctx, query, id, pos.Latitude, pos.Longitude))
}

func (r *PostgresDeviceRepository) TouchLastSeen(ctx context.Context, id int64) error {
	return requireAffected(r.db.ExecContext(ctx, `UPDATE devices SET last_seen = now() WHERE id = $1`, id))
}

func (r *PostgresDeviceRepository) SetStatus(ctx context.Context, id int64, status mqtmodels.DeviceStatus) error {
	return requireAffected(r.db.ExecContext(ctx, `UPDATE devices SET status = $2 WHERE id = $1`, id, string(status)))
}

func (r *PostgresDeviceRepository) CreateDevice(ctx context.Context, name, deviceType string) (*mqtmodels.Device, error) {
	query := `
		INSERT INTO devices (name, type, status)
		VALUES ($1, $2, $3)
		RETURNING ` + deviceColumns

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, name, deviceType, string(mqtmodels.StatusActive)))
	if err != nil {
		return nil, mapPQError(err)
	}
	return device, nil
}

func (r *PostgresDeviceRepository) GetDevice(ctx context.Context, id int64) (*mqtmodels.Device, error) {
	return scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
}

func (r *PostgresDeviceRepository) GetDeviceByName(ctx context.Context, name string) (*mqtmodels.Device, error) {
	return scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE name = $1`, name))
}

func (r *PostgresDeviceRepository) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]mqtmodels.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}
