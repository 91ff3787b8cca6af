package implementation

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	health "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Health"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
)

// newTestPostgresStore connects to TEST_POSTGRES_DSN and empties the tracking
// tables. The test is skipped when the variable is unset.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, health.NewDatabaseManager(db).CreateTables(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE device_geofences, device_history, geofences, devices RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewPostgresStore(db)
}

func TestPostgresEnsureDeviceConcurrent(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]bool{}
		created int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, isNew, err := store.EnsureDevice(ctx, "AA:BB", "walter", &mqtmodels.Position{Latitude: 55, Longitude: 10})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[id] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, mqtmodels.StatusActive, devices[0].Status)
	assert.NotNil(t, devices[0].LastSeen)
}

func TestPostgresErrorMapping(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	_, err := store.CreateDevice(ctx, "AA", "walter")
	require.NoError(t, err)
	_, err = store.CreateDevice(ctx, "AA", "walter")
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)

	_, err = store.Append(ctx, 9999, mqtmodels.Position{Latitude: 1, Longitude: 2})
	assert.ErrorIs(t, err, interfaces.ErrReferential)

	_, err = store.GetDevice(ctx, 9999)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ErrorIs(t, store.SetStatus(ctx, 9999, mqtmodels.StatusIllegalState), interfaces.ErrNotFound)
}

func TestPostgresHistoryOrder(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	id, _, err := store.EnsureDevice(ctx, "AA", "walter", nil)
	require.NoError(t, err)
	for i := range 5 {
		_, err := store.Append(ctx, id, mqtmodels.Position{Latitude: float64(i), Longitude: 0})
		require.NoError(t, err)
	}

	var lats []float64
	for s, err := range store.ListByDevice(ctx, id, mqtmodels.OrderDescending) {
		require.NoError(t, err)
		lats = append(lats, s.Latitude)
	}
	assert.Equal(t, []float64{4, 3, 2, 1, 0}, lats)
}

func TestPostgresAssociation(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	id, _, err := store.EnsureDevice(ctx, "AA", "walter", nil)
	require.NoError(t, err)
	first, err := store.CreateGeofence(ctx, mqtmodels.Geofence{Name: "yard", CenterLat: 55, CenterLng: 10, Radius: 50, Type: mqtmodels.GeofenceExiting})
	require.NoError(t, err)
	second, err := store.CreateGeofence(ctx, mqtmodels.Geofence{Name: "gate", CenterLat: 55, CenterLng: 10, Radius: 5, Type: mqtmodels.GeofenceEntering})
	require.NoError(t, err)

	_, ok, err := store.Resolve(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Associate(ctx, id, first.ID))
	require.NoError(t, store.Associate(ctx, id, second.ID))

	got, ok, err := store.Resolve(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second.ID, got)

	assert.ErrorIs(t, store.Associate(ctx, id, 9999), interfaces.ErrReferential)
}
