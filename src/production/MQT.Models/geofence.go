package mqtmodels

import "time"

// GeofenceType is the compliance semantic of a geofence
type GeofenceType string

const (
	// GeofenceEntering alarms when the device moves inside the region.
	GeofenceEntering GeofenceType = "entering"
	// GeofenceExiting alarms when the device moves outside the region.
	GeofenceExiting GeofenceType = "exiting"
)

// Valid reports whether t is a known geofence type
func (t GeofenceType) Valid() bool {
	return t == GeofenceEntering || t == GeofenceExiting
}

// Geofence is a circular region with a radius in meters
type Geofence struct {
	ID        int64        `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	CenterLat float64      `json:"center_lat" db:"center_lat"`
	CenterLng float64      `json:"center_lng" db:"center_lng"`
	Radius    float64      `json:"radius" db:"radius"`
	Type      GeofenceType `json:"type" db:"type"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Center returns the geofence center as a Position
func (g Geofence) Center() Position {
	return Position{Latitude: g.CenterLat, Longitude: g.CenterLng}
}

// Association binds a device to the single geofence governing its status
type Association struct {
	DeviceID   int64     `json:"device_id" db:"device_id"`
	GeofenceID int64     `json:"geofence_id" db:"geofence_id"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
