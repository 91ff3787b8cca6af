// Package tracking applies decoded feed events and API requests to the
// device registry, history log and association store.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	geofence "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Geofence"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
	telemetry "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Telemetry"
)

// ErrInvalidArgument is returned when a request carries unusable values.
var ErrInvalidArgument = errors.New("invalid argument")

// Options tunes a Service
type Options struct {
	// DefaultDeviceType is stored for devices first seen on the feed.
	DefaultDeviceType string
	// ReevaluateGeofence re-runs the associated geofence after every
	// position update.
	ReevaluateGeofence bool
}

// Service is the orchestration layer shared by the ingestor and the API
type Service struct {
	store interfaces.Store
	log   *logger.Logger
	opts  Options
}

func NewService(store interfaces.Store, log *logger.Logger, opts Options) *Service {
	if opts.DefaultDeviceType == "" {
		opts.DefaultDeviceType = "walter"
	}
	return &Service{
		store: store,
		log:   log.WithComponent("tracking"),
		opts:  opts,
	}
}

// HandleEvent applies one decoded feed event.
func (s *Service) HandleEvent(ctx context.Context, ev telemetry.Event) error {
	switch ev.Kind {
	case telemetry.KindRegistration:
		_, err := s.HandleRegistration(ctx, ev.DeviceID)
		return err
	case telemetry.KindHeartbeat:
		_, err := s.HandleHeartbeat(ctx, ev.DeviceID)
		return err
	case telemetry.KindPosition:
		_, err := s.HandlePosition(ctx, ev.DeviceID, ev.Position)
		return err
	case telemetry.KindDiscard:
		s.log.WithDevice(ev.DeviceID).WithField("confidence", ev.Confidence).Info("Discarding low quality fix")
		return nil
	default:
		return fmt.Errorf("unhandled event kind %s", ev.Kind)
	}
}

// HandleRegistration creates the device if needed and refreshes last seen
func (s *Service) HandleRegistration(ctx context.Context, name string) (int64, error) {
	return s.ensureAndTouch(ctx, name)
}

// HandleHeartbeat creates a bare device if needed and refreshes last seen
func (s *Service) HandleHeartbeat(ctx context.Context, name string) (int64, error) {
	return s.ensureAndTouch(ctx, name)
}

func (s *Service) ensureAndTouch(ctx context.Context, name string) (int64, error) {
	id, _, err := s.ensure(ctx, name, nil)
	if err != nil {
		return 0, err
	}
	if err := s.store.TouchLastSeen(ctx, id); err != nil {
		return 0, fmt.Errorf("touch last seen for %s: %w", name, err)
	}
	return id, nil
}

func (s *Service) ensure(ctx context.Context, name string, initial *mqtmodels.Position) (int64, bool, error) {
	id, created, err := s.store.EnsureDevice(ctx, name, s.opts.DefaultDeviceType, initial)
	if err != nil {
		return 0, false, err
	}
	if created {
		metrics.DevicesCreated.WithLabelValues("feed").Inc()
		s.log.WithDevice(name).WithField("device_id", id).Info("Registered new device")
	}
	return id, created, nil
}

// HandlePosition stores a feed position fix. A new device is created with
// the fix as its initial position; an existing one has its position
// overwritten. Either way one history sample is appended.
func (s *Service) HandlePosition(ctx context.Context, name string, pos mqtmodels.Position) (*mqtmodels.PositionSample, error) {
	id, created, err := s.ensure(ctx, name, &pos)
	if err != nil {
		return nil, err
	}
	if !created {
		if err := s.store.RecordPosition(ctx, id, pos); err != nil {
			return nil, fmt.Errorf("record position for %s: %w", name, err)
		}
	}

	sample, err := s.store.Append(ctx, id, pos)
	if err != nil {
		return nil, fmt.Errorf("append history for %s: %w", name, err)
	}

	s.reevaluate(ctx, id)
	return sample, nil
}

// RecordManualLocation stores a position submitted through the API for an
// existing device.
func (s *Service) RecordManualLocation(ctx context.Context, deviceID int64, pos mqtmodels.Position) (*mqtmodels.PositionSample, error) {
	if err := validatePosition(pos.Latitude, pos.Longitude); err != nil {
		return nil, err
	}
	if err := s.store.RecordPosition(ctx, deviceID, pos); err != nil {
		return nil, err
	}
	sample, err := s.store.Append(ctx, deviceID, pos)
	if err != nil {
		return nil, err
	}

	s.reevaluate(ctx, deviceID)
	return sample, nil
}

// reevaluate refreshes the status of a device that has an association.
// Failures are logged only; the position itself is already stored.
func (s *Service) reevaluate(ctx context.Context, deviceID int64) {
	if !s.opts.ReevaluateGeofence {
		return
	}
	log := s.log.WithField("device_id", deviceID)

	geofenceID, ok, err := s.store.Resolve(ctx, deviceID)
	if err != nil {
		log.ErrorWithError(err, "Failed to resolve geofence association")
		return
	}
	if !ok {
		return
	}

	result, err := s.evaluate(ctx, deviceID, geofenceID)
	if err != nil {
		log.WithField("geofence_id", geofenceID).ErrorWithError(err, "Failed to re-evaluate geofence")
		return
	}
	log.WithFields(map[string]interface{}{
		"geofence_id": geofenceID,
		"status":      result.Status,
		"distance":    result.Distance,
	}).Debug("Re-evaluated geofence")
}

// evaluate loads both sides, decides the status and stores it
func (s *Service) evaluate(ctx context.Context, deviceID, geofenceID int64) (geofence.Result, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return geofence.Result{}, err
	}
	fence, err := s.store.GetGeofence(ctx, geofenceID)
	if err != nil {
		return geofence.Result{}, err
	}

	result, err := geofence.Evaluate(*device, *fence)
	if err != nil {
		return geofence.Result{}, err
	}
	if err := s.store.SetStatus(ctx, deviceID, result.Status); err != nil {
		return geofence.Result{}, err
	}
	metrics.GeofenceEvaluations.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

// ConnectGeofence associates the device with the geofence and evaluates it.
// The association is kept even when the device has no position yet, in
// which case geofence.ErrInsufficientData is returned and the status is
// left untouched.
func (s *Service) ConnectGeofence(ctx context.Context, deviceID, geofenceID int64) (geofence.Result, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return geofence.Result{}, fmt.Errorf("device %d: %w", deviceID, err)
	}
	if _, err := s.store.GetGeofence(ctx, geofenceID); err != nil {
		return geofence.Result{}, fmt.Errorf("geofence %d: %w", geofenceID, err)
	}

	if err := s.store.Associate(ctx, deviceID, geofenceID); err != nil {
		return geofence.Result{}, err
	}
	return s.evaluate(ctx, deviceID, geofenceID)
}

// ResolveGeofence returns the geofence associated with the device
func (s *Service) ResolveGeofence(ctx context.Context, deviceID int64) (*mqtmodels.Geofence, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, fmt.Errorf("device %d: %w", deviceID, err)
	}
	geofenceID, ok, err := s.store.Resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("device %d has no geofence: %w", deviceID, interfaces.ErrNotFound)
	}
	return s.store.GetGeofence(ctx, geofenceID)
}

// ListHistory returns the position log of an existing device
func (s *Service) ListHistory(ctx context.Context, deviceID int64, order mqtmodels.SortOrder) (iter.Seq2[mqtmodels.PositionSample, error], error) {
	switch order {
	case "":
		order = mqtmodels.OrderDescending
	case mqtmodels.OrderAscending, mqtmodels.OrderDescending:
	default:
		return nil, fmt.Errorf("%w: order must be asc or desc", ErrInvalidArgument)
	}
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListByDevice(ctx, deviceID, order), nil
}

func (s *Service) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	return s.store.ListDevices(ctx)
}

func (s *Service) GetDevice(ctx context.Context, deviceID int64) (*mqtmodels.Device, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// CreateDevice registers a user-defined device. An empty type falls back
// to the default device type.
func (s *Service) CreateDevice(ctx context.Context, name, deviceType string) (*mqtmodels.Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(deviceType) == "" {
		deviceType = s.opts.DefaultDeviceType
	}

	device, err := s.store.CreateDevice(ctx, name, deviceType)
	if err != nil {
		return nil, err
	}
	metrics.DevicesCreated.WithLabelValues("api").Inc()
	return device, nil
}

func (s *Service) CreateGeofence(ctx context.Context, fence mqtmodels.Geofence) (*mqtmodels.Geofence, error) {
	fence.Name = strings.TrimSpace(fence.Name)
	if fence.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if !fence.Type.Valid() {
		return nil, fmt.Errorf("%w: type must be %s or %s", ErrInvalidArgument, mqtmodels.GeofenceEntering, mqtmodels.GeofenceExiting)
	}
	if fence.Radius < 0 {
		return nil, fmt.Errorf("%w: radius must not be negative", ErrInvalidArgument)
	}
	if err := validatePosition(fence.CenterLat, fence.CenterLng); err != nil {
		return nil, err
	}
	return s.store.CreateGeofence(ctx, fence)
}

func (s *Service) GetGeofence(ctx context.Context, geofenceID int64) (*mqtmodels.Geofence, error) {
	return s.store.GetGeofence(ctx, geofenceID)
}

func (s *Service) ListGeofences(ctx context.Context) ([]mqtmodels.Geofence, error) {
	return s.store.ListGeofences(ctx)
}

func validatePosition(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %g out of range", ErrInvalidArgument, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %g out of range", ErrInvalidArgument, lon)
	}
	return nil
}
