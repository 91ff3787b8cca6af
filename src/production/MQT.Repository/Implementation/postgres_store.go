package implementation

import (
	"context"
	"database/sql"
)

// PostgresStore exposes all Postgres repositories over one connection pool
type PostgresStore struct {
	*PostgresDeviceRepository
	*PostgresHistoryRepository
	*PostgresGeofenceRepository
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		PostgresDeviceRepository:   NewPostgresDeviceRepository(db),
		PostgresHistoryRepository:  NewPostgresHistoryRepository(db),
		PostgresGeofenceRepository: NewPostgresGeofenceRepository(db),
		db:                         db,
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to the container.
func (s *PostgresStore) Close() error {
	return nil
}
