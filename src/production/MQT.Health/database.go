package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DatabaseManager handles schema management
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// ConnectPostgresWithTimeout creates a PostgreSQL connection with a timeout context
func ConnectPostgresWithTimeout(cfg *config.Config, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// ConnectMongoWithTimeout connects to the raw message archive and verifies
// the primary is reachable.
func ConnectMongoWithTimeout(cfg *config.ArchiveConfig, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}
	return client, nil
}

// CreateTables creates the tracking schema if it does not exist
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createDevicesTable := `
		CREATE TABLE IF NOT EXISTS devices (
			id              BIGSERIAL PRIMARY KEY,
			name            TEXT NOT NULL UNIQUE,
			type            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active',
			last_latitude   DOUBLE PRECISION,
			last_longitude  DOUBLE PRECISION,
			last_seen       TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (status IN ('active', 'illegal_state'))
		);
	`

	createHistoryTable := `
		CREATE TABLE IF NOT EXISTS device_history (
			id          BIGSERIAL PRIMARY KEY,
			device_id   BIGINT NOT NULL,
			latitude    DOUBLE PRECISION NOT NULL,
			longitude   DOUBLE PRECISION NOT NULL,
			timestamp   TIMESTAMPTZ NOT NULL DEFAULT now(),
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		);
	`

	createGeofencesTable := `
		CREATE TABLE IF NOT EXISTS geofences (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			center_lat  DOUBLE PRECISION NOT NULL,
			center_lng  DOUBLE PRECISION NOT NULL,
			radius      DOUBLE PRECISION NOT NULL CHECK (radius >= 0),
			type        TEXT NOT NULL CHECK (type IN ('entering', 'exiting')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	createAssociationsTable := `
		CREATE TABLE IF NOT EXISTS device_geofences (
			device_id   BIGINT PRIMARY KEY,
			geofence_id BIGINT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE,
			FOREIGN KEY (geofence_id) REFERENCES geofences(id) ON DELETE CASCADE
		);
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_device_history_device_ts_desc ON device_history (device_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_device_geofences_geofence ON device_geofences (geofence_id);
	`

	queries := []string{
		createDevicesTable,
		createHistoryTable,
		createGeofencesTable,
		createAssociationsTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := dm.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (dm *DatabaseManager) Close() error {
	if dm.db != nil {
		return dm.db.Close()
	}
	return nil
}
