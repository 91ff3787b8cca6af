// Package geofence decides device compliance against circular geofences.
package geofence

import (
	"errors"
	"fmt"
	"math"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

// EarthRadiusMeters is the mean Earth radius of the spherical model.
const EarthRadiusMeters = 6371000.0

var (
	// ErrInsufficientData is returned when the device has no recorded position.
	ErrInsufficientData = errors.New("device has no recorded position")
	// ErrUnknownType is returned for a geofence type other than entering or exiting.
	ErrUnknownType = errors.New("unknown geofence type")
)

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b mqtmodels.Position) float64 {
	phi1 := radians(a.Latitude)
	phi2 := radians(b.Latitude)
	dPhi := radians(b.Latitude - a.Latitude)
	dLambda := radians(b.Longitude - a.Longitude)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// rounding can push h just past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Contains reports whether pos lies within radiusMeters of center. The
// boundary is inclusive.
func Contains(pos, center mqtmodels.Position, radiusMeters float64) bool {
	return Distance(pos, center) <= radiusMeters
}

// DecideStatus maps containment and geofence semantics to a device status.
//
//	entering + inside  -> illegal_state
//	entering + outside -> active
//	exiting  + inside  -> active
//	exiting  + outside -> illegal_state
func DecideStatus(t mqtmodels.GeofenceType, inside bool) (mqtmodels.DeviceStatus, error) {
	switch t {
	case mqtmodels.GeofenceEntering:
		if inside {
			return mqtmodels.StatusIllegalState, nil
		}
		return mqtmodels.StatusActive, nil
	case mqtmodels.GeofenceExiting:
		if inside {
			return mqtmodels.StatusActive, nil
		}
		return mqtmodels.StatusIllegalState, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// Result is the outcome of evaluating a device against a geofence
type Result struct {
	Inside   bool                   `json:"inside"`
	Distance float64                `json:"distance"`
	Status   mqtmodels.DeviceStatus `json:"status"`
}

// Evaluate computes the status of device against fence using the device's
// last known position.
func Evaluate(device mqtmodels.Device, fence mqtmodels.Geofence) (Result, error) {
	pos, ok := device.LastPosition()
	if !ok {
		return Result{}, ErrInsufficientData
	}

	distance := Distance(pos, fence.Center())
	inside := distance <= fence.Radius
	status, err := DecideStatus(fence.Type, inside)
	if err != nil {
		return Result{}, err
	}
	return Result{Inside: inside, Distance: distance, Status: status}, nil
}
