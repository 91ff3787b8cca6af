package implementation

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDevices         = []byte("devices")
	bucketDeviceNames     = []byte("device_names")
	bucketDeviceHistory   = []byte("device_history")
	bucketGeofences       = []byte("geofences")
	bucketDeviceGeofences = []byte("device_geofences")
)

// historyPageSize bounds how many samples one read transaction collects
const historyPageSize = 256

// BoltStore implements interfaces.Store on a single BoltDB file. Every
// mutation runs in one write transaction, which BoltDB serializes.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens or creates the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDevices,
			bucketDeviceNames,
			bucketDeviceHistory,
			bucketGeofences,
			bucketDeviceGeofences,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDevices) == nil {
			return fmt.Errorf("bucket %s missing", bucketDevices)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return interfaces.ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Device operations

func (s *BoltStore) EnsureDevice(ctx context.Context, name, deviceType string, initial *mqtmodels.Position) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketDeviceNames)
		if existing := names.Get([]byte(name)); existing != nil {
			id = btoi(existing)
			return nil
		}

		device := mqtmodels.Device{
			Name:      name,
			Type:      deviceType,
			Status:    mqtmodels.StatusActive,
			CreatedAt: s.now(),
		}
		if initial != nil {
			lat, lon, seen := initial.Latitude, initial.Longitude, device.CreatedAt
			device.LastLatitude, device.LastLongitude, device.LastSeen = &lat, &lon, &seen
		}
		if err := s.insertDevice(tx, &device); err != nil {
			return err
		}
		id, created = device.ID, true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("ensure device %s: %w", name, err)
	}
	return id, created, nil
}

func (s *BoltStore) insertDevice(tx *bolt.Tx, device *mqtmodels.Device) error {
	devices := tx.Bucket(bucketDevices)
	seq, err := devices.NextSequence()
	if err != nil {
		return err
	}
	device.ID = int64(seq)
	if err := putJSON(devices, itob(device.ID), device); err != nil {
		return err
	}
	return tx.Bucket(bucketDeviceNames).Put([]byte(device.Name), itob(device.ID))
}

// updateDevice loads the device, applies fn and writes it back
func (s *BoltStore) updateDevice(id int64, fn func(*mqtmodels.Device)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		devices := tx.Bucket(bucketDevices)
		var device mqtmodels.Device
		if err := getJSON(devices, itob(id), &device); err != nil {
			return err
		}
		fn(&device)
		return putJSON(devices, itob(id), &device)
	})
}

func (s *BoltStore) RecordPosition(ctx context.Context, id int64, pos mqtmodels.Position) error {
	now := s.now()
	return s.updateDevice(id, func(d *mqtmodels.Device) {
		lat, lon := pos.Latitude, pos.Longitude
		d.LastLatitude, d.LastLongitude, d.LastSeen = &lat, &lon, &now
	})
}

func (s *BoltStore) TouchLastSeen(ctx context.Context, id int64) error {
	now := s.now()
	return s.updateDevice(id, func(d *mqtmodels.Device) {
		d.LastSeen = &now
	})
}

func (s *BoltStore) SetStatus(ctx context.Context, id int64, status mqtmodels.DeviceStatus) error {
	return s.updateDevice(id, func(d *mqtmodels.Device) {
		d.Status = status
	})
}

func (s *BoltStore) CreateDevice(ctx context.Context, name, deviceType string) (*mqtmodels.Device, error) {
	device := mqtmodels.Device{
		Name:      name,
		Type:      deviceType,
		Status:    mqtmodels.StatusActive,
		CreatedAt: s.now(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDeviceNames).Get([]byte(name)) != nil {
			return fmt.Errorf("%w: device %s", interfaces.ErrDuplicate, name)
		}
		return s.insertDevice(tx, &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *BoltStore) GetDevice(ctx context.Context, id int64) (*mqtmodels.Device, error) {
	var device mqtmodels.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketDevices), itob(id), &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *BoltStore) GetDeviceByName(ctx context.Context, name string) (*mqtmodels.Device, error) {
	var device mqtmodels.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketDeviceNames).Get([]byte(name))
		if id == nil {
			return interfaces.ErrNotFound
		}
		return getJSON(tx.Bucket(bucketDevices), id, &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *BoltStore) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	devices := make([]mqtmodels.Device, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(k, v []byte) error {
			var device mqtmodels.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, device)
			return nil
		})
	})
	return devices, err
}

// History operations

func (s *BoltStore) Append(ctx context.Context, deviceID int64, pos mqtmodels.Position) (*mqtmodels.PositionSample, error) {
	sample := mqtmodels.PositionSample{
		DeviceID:  deviceID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Timestamp: s.now(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDevices).Get(itob(deviceID)) == nil {
			return fmt.Errorf("%w: device %d", interfaces.ErrReferential, deviceID)
		}
		history, err := tx.Bucket(bucketDeviceHistory).CreateBucketIfNotExists(itob(deviceID))
		if err != nil {
			return err
		}
		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		sample.ID = int64(seq)
		return putJSON(history, itob(sample.ID), &sample)
	})
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// ListByDevice reads the log in pages so no read transaction stays open
// while the caller handles a sample.
func (s *BoltStore) ListByDevice(ctx context.Context, deviceID int64, order mqtmodels.SortOrder) iter.Seq2[mqtmodels.PositionSample, error] {
	descending := order != mqtmodels.OrderAscending

	return func(yield func(mqtmodels.PositionSample, error) bool) {
		var after []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(mqtmodels.PositionSample{}, err)
				return
			}

			page, err := s.historyPage(deviceID, after, descending)
			if err != nil {
				yield(mqtmodels.PositionSample{}, err)
				return
			}
			for _, sample := range page {
				if !yield(sample, nil) {
					return
				}
			}
			if len(page) < historyPageSize {
				return
			}
			after = itob(page[len(page)-1].ID)
		}
	}
}

func (s *BoltStore) historyPage(deviceID int64, after []byte, descending bool) ([]mqtmodels.PositionSample, error) {
	page := make([]mqtmodels.PositionSample, 0, historyPageSize)
	err := s.db.View(func(tx *bolt.Tx) error {
		history := tx.Bucket(bucketDeviceHistory).Bucket(itob(deviceID))
		if history == nil {
			return nil
		}
		c := history.Cursor()

		var k, v []byte
		switch {
		case after == nil && descending:
			k, v = c.Last()
		case after == nil:
			k, v = c.First()
		case descending:
			c.Seek(after)
			k, v = c.Prev()
		default:
			c.Seek(after)
			k, v = c.Next()
		}

		for k != nil && len(page) < historyPageSize {
			var sample mqtmodels.PositionSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			page = append(page, sample)
			if descending {
				k, v = c.Prev()
			} else {
				k, v = c.Next()
			}
		}
		return nil
	})
	return page, err
}

// Geofence operations

func (s *BoltStore) CreateGeofence(ctx context.Context, fence mqtmodels.Geofence) (*mqtmodels.Geofence, error) {
	fence.CreatedAt = s.now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGeofences)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		fence.ID = int64(seq)
		return putJSON(b, itob(fence.ID), &fence)
	})
	if err != nil {
		return nil, err
	}
	return &fence, nil
}

func (s *BoltStore) GetGeofence(ctx context.Context, id int64) (*mqtmodels.Geofence, error) {
	var fence mqtmodels.Geofence
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketGeofences), itob(id), &fence)
	})
	if err != nil {
		return nil, err
	}
	return &fence, nil
}

func (s *BoltStore) ListGeofences(ctx context.Context) ([]mqtmodels.Geofence, error) {
	fences := make([]mqtmodels.Geofence, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGeofences).ForEach(func(k, v []byte) error {
			var fence mqtmodels.Geofence
			if err := json.Unmarshal(v, &fence); err != nil {
				return err
			}
			fences = append(fences, fence)
			return nil
		})
	})
	return fences, err
}

// Association operations

func (s *BoltStore) Associate(ctx context.Context, deviceID, geofenceID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDevices).Get(itob(deviceID)) == nil {
			return fmt.Errorf("%w: device %d", interfaces.ErrReferential, deviceID)
		}
		if tx.Bucket(bucketGeofences).Get(itob(geofenceID)) == nil {
			return fmt.Errorf("%w: geofence %d", interfaces.ErrReferential, geofenceID)
		}
		assoc := mqtmodels.Association{DeviceID: deviceID, GeofenceID: geofenceID, UpdatedAt: s.now()}
		return putJSON(tx.Bucket(bucketDeviceGeofences), itob(deviceID), &assoc)
	})
}

func (s *BoltStore) Resolve(ctx context.Context, deviceID int64) (int64, bool, error) {
	var (
		assoc mqtmodels.Association
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeviceGeofences).Get(itob(deviceID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &assoc)
	})
	if err != nil || !found {
		return 0, false, err
	}
	return assoc.GeofenceID, true, nil
}
