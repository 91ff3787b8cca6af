package mqtmodels

import "time"

// DeviceStatus is the operational status of a tracked device
type DeviceStatus string

const (
	StatusActive       DeviceStatus = "active"
	StatusIllegalState DeviceStatus = "illegal_state"
)

// Position is a latitude/longitude pair in degrees
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Device represents a GNSS field device. Name holds the hardware address and
// is unique across all devices.
type Device struct {
	ID            int64        `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Type          string       `json:"type" db:"type"`
	Status        DeviceStatus `json:"status" db:"status"`
	LastLatitude  *float64     `json:"last_latitude" db:"last_latitude"`
	LastLongitude *float64     `json:"last_longitude" db:"last_longitude"`
	LastSeen      *time.Time   `json:"last_seen" db:"last_seen"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// LastPosition returns the last known position, or false before the first fix
func (d Device) LastPosition() (Position, bool) {
	if d.LastLatitude == nil || d.LastLongitude == nil {
		return Position{}, false
	}
	return Position{Latitude: *d.LastLatitude, Longitude: *d.LastLongitude}, true
}
