package implementation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
)

// Postgres SQLSTATE codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// mapPQError translates constraint violations into repository errors
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", interfaces.ErrDuplicate, pqErr.Detail)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", interfaces.ErrReferential, pqErr.Detail)
		}
	}
	return err
}

func nullablePosition(pos *mqtmodels.Position) (sql.NullFloat64, sql.NullFloat64) {
	if pos == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: pos.Latitude, Valid: true}, sql.NullFloat64{Float64: pos.Longitude, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

const deviceColumns = `id, name, type, status, last_latitude, last_longitude, last_seen, created_at`

func scanDevice(row rowScanner) (*mqtmodels.Device, error) {
	var (
		device   mqtmodels.Device
		lat, lon sql.NullFloat64
		lastSeen sql.NullTime
		status   string
	)
	if err := row.Scan(&device.ID, &device.Name, &device.Type, &status, &lat, &lon, &lastSeen, &device.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	device.Status = mqtmodels.DeviceStatus(status)
	device.LastLatitude = floatPtr(lat)
	device.LastLongitude = floatPtr(lon)
	device.LastSeen = timePtr(lastSeen)
	device.CreatedAt = device.CreatedAt.UTC()
	return &device, nil
}

func requireAffected(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
