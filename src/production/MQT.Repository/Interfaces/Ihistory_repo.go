package interfaces

import (
	"context"
	"iter"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

// HistoryRepository is the append-only position log.
type HistoryRepository interface {
	// Append records a sample stamped with the current time. It returns
	// ErrReferential if the device does not exist.
	Append(ctx context.Context, deviceID int64, pos mqtmodels.Position) (*mqtmodels.PositionSample, error)

	// ListByDevice yields the samples of a device in timestamp order. The
	// sequence is lazy and every range over it reads the log again.
	ListByDevice(ctx context.Context, deviceID int64, order mqtmodels.SortOrder) iter.Seq2[mqtmodels.PositionSample, error]
}
