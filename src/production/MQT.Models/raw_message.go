package mqtmodels

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RawMessage is an archived feed message as received from the broker
type RawMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Topic      string             `bson:"topic" json:"topic"`
	DeviceID   string             `bson:"device_id,omitempty" json:"device_id,omitempty"`
	Kind       string             `bson:"kind" json:"kind"`
	Payload    string             `bson:"payload" json:"payload"`
	ReceivedAt time.Time          `bson:"received_at" json:"received_at"`
}
