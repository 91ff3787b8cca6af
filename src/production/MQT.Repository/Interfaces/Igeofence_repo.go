package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

type GeofenceRepository interface {
	CreateGeofence(ctx context.Context, fence mqtmodels.Geofence) (*mqtmodels.Geofence, error)
	GetGeofence(ctx context.Context, id int64) (*mqtmodels.Geofence, error)
	ListGeofences(ctx context.Context) ([]mqtmodels.Geofence, error)
}

// AssociationRepository keeps at most one active geofence per device.
type AssociationRepository interface {
	// Associate replaces the device's association. ErrReferential if either
	// side does not exist.
	Associate(ctx context.Context, deviceID, geofenceID int64) error

	// Resolve returns the associated geofence id, or ok == false when none.
	Resolve(ctx context.Context, deviceID int64) (geofenceID int64, ok bool, err error)
}
