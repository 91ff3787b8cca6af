package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

// DeviceRepository owns the canonical per-device state.
type DeviceRepository interface {
	// EnsureDevice creates the device named name with status active if it is
	// missing. A non-nil initial position is stored together with the current
	// time as last seen. Concurrent calls for the same name converge on one
	// row; the caller that inserted it gets created == true.
	EnsureDevice(ctx context.Context, name, deviceType string, initial *mqtmodels.Position) (id int64, created bool, err error)

	// RecordPosition updates the last position and last seen time.
	RecordPosition(ctx context.Context, id int64, pos mqtmodels.Position) error
	TouchLastSeen(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status mqtmodels.DeviceStatus) error

	// CreateDevice inserts a user-defined device; ErrDuplicate if the name is taken.
	CreateDevice(ctx context.Context, name, deviceType string) (*mqtmodels.Device, error)
	GetDevice(ctx context.Context, id int64) (*mqtmodels.Device, error)
	GetDeviceByName(ctx context.Context, name string) (*mqtmodels.Device, error)
	ListDevices(ctx context.Context) ([]mqtmodels.Device, error)
}
