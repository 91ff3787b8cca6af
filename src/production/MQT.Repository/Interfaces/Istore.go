package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

// Store bundles the repositories backed by one storage engine.
type Store interface {
	DeviceRepository
	HistoryRepository
	GeofenceRepository
	AssociationRepository

	Ping(ctx context.Context) error
	Close() error
}

// RawMessageArchive stores feed messages verbatim.
type RawMessageArchive interface {
	InsertOne(ctx context.Context, msg mqtmodels.RawMessage) error
}
