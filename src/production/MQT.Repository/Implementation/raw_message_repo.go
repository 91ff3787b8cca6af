package implementation

import (
	"context"
	"time"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoRawMessageRepository archives feed messages verbatim
type MongoRawMessageRepository struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoRawMessageRepository(coll *mongo.Collection, timeout time.Duration) *MongoRawMessageRepository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MongoRawMessageRepository{coll: coll, timeout: timeout}
}

func (r *MongoRawMessageRepository) InsertOne(ctx context.Context, msg mqtmodels.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, msg)
	return err
}
