package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
)

// PostgresGeofenceRepository serves geofences and device associations
type PostgresGeofenceRepository struct {
	db *sql.DB
}

func NewPostgresGeofenceRepository(db *sql.DB) *PostgresGeofenceRepository {
	return &PostgresGeofenceRepository{db: db}
}

const geofenceColumns = `id, name, center_lat, center_lng, radius, type, created_at`

func scanGeofence(row rowScanner) (*mqtmodels.Geofence, error) {
	var (
		fence     mqtmodels.Geofence
		fenceType string
	)
	if err := row.Scan(&fence.ID, &fence.Name, &fence.CenterLat, &fence.CenterLng, &fence.Radius, &fenceType, &fence.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	fence.Type = mqtmodels.GeofenceType(fenceType)
	fence.CreatedAt = fence.CreatedAt.UTC()
	return &fence, nil
}

func (r *PostgresGeofenceRepository) CreateGeofence(ctx context.Context, fence mqtmodels.Geofence) (*mqtmodels.Geofence, error) {
	query := `
		INSERT INTO geofences (name, center_lat, center_lng, radius, type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + geofenceColumns

	created, err := scanGeofence(r.db.QueryRowContext(ctx, query, fence.Name, fence.CenterLat, fence.CenterLng, fence.Radius, string(fence.Type)))
	if err != nil {
		return nil, mapPQError(err)
	}
	return created, nil
}

func (r *PostgresGeofenceRepository) GetGeofence(ctx context.Context, id int64) (*mqtmodels.Geofence, error) {
	return scanGeofence(r.db.QueryRowContext(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE id = $1`, id))
}

func (r *PostgresGeofenceRepository) ListGeofences(ctx context.Context) ([]mqtmodels.Geofence, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+geofenceColumns+` FROM geofences ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fences := make([]mqtmodels.Geofence, 0)
	for rows.Next() {
		fence, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		fences = append(fences, *fence)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fences, nil
}

func (r *PostgresGeofenceRepository) Associate(ctx context.Context, deviceID, geofenceID int64) error {
	query := `
		INSERT INTO device_geofences (device_id, geofence_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (device_id)
		DO UPDATE SET geofence_id = EXCLUDED.geofence_id, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, deviceID, geofenceID); err != nil {
		return fmt.Errorf("associate device %d with geofence %d: %w", deviceID, geofenceID, mapPQError(err))
	}
	return nil
}

func (r *PostgresGeofenceRepository) Resolve(ctx context.Context, deviceID int64) (int64, bool, error) {
	var geofenceID int64
	err := r.db.QueryRowContext(ctx, `SELECT geofence_id FROM device_geofences WHERE device_id = $1`, deviceID).Scan(&geofenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return geofenceID, true, nil
}
