package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	config "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Config"
	health "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Health"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	implementation "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
	tracking "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Tracking"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger

	db      *sql.DB
	store   interfaces.Store
	mongo   *mongo.Client
	archive interfaces.RawMessageArchive

	healthChecker *health.HealthChecker
	tracking      *tracking.Service

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order
	cleanupFuncs []func() error
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*Container, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}
	return New(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// NewApiContainer creates a new container for the API service
func NewApiContainer() (*Container, error) {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}
	return New(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// New creates a container around an already loaded configuration
func New(cfg *config.Config, log *logger.Logger) *Container {
	return &Container{
		config: cfg,
		logger: log,
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetStore opens the configured storage backend on first use. The Postgres
// schema is created if missing.
func (c *Container) GetStore(ctx context.Context) (interfaces.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return c.store, nil
	}

	switch c.config.Database.Driver {
	case config.StoreDriverBolt:
		store, err := implementation.NewBoltStore(c.config.Database.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, store.Close)
		c.store = store
		c.logger.WithField("path", c.config.Database.BoltPath).Info("Bolt store opened")

	case config.StoreDriverPostgres:
		db, err := health.ConnectPostgresWithTimeout(c.config, 20*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)

		if err := health.NewDatabaseManager(db).CreateTables(ctx); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
		c.db = db
		c.store = implementation.NewPostgresStore(db)
		c.logger.Info("Database initialized successfully")

	default:
		return nil, fmt.Errorf("unknown store driver %q", c.config.Database.Driver)
	}

	return c.store, nil
}

// GetRawMessageArchive returns the Mongo archive, or nil when archiving is
// not configured.
func (c *Container) GetRawMessageArchive() (interfaces.RawMessageArchive, error) {
	if !c.config.Archive.Enabled() {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.archive != nil {
		return c.archive, nil
	}

	client, err := health.ConnectMongoWithTimeout(&c.config.Archive, 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.cleanupFuncs = append(c.cleanupFuncs, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	})

	coll := client.Database(c.config.Archive.Database).Collection(c.config.Archive.Collection)
	c.mongo = client
	c.archive = implementation.NewMongoRawMessageRepository(coll, c.config.Archive.Timeout)
	c.logger.WithField("collection", c.config.Archive.Collection).Info("Raw message archive enabled")
	return c.archive, nil
}

// GetTrackingService returns the orchestration service over the store
func (c *Container) GetTrackingService(ctx context.Context) (*tracking.Service, error) {
	store, err := c.GetStore(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tracking == nil {
		c.tracking = tracking.NewService(store, c.logger, tracking.Options{
			DefaultDeviceType:  c.config.Ingest.DefaultDeviceType,
			ReevaluateGeofence: c.config.Ingest.ReevaluateGeofence,
		})
	}
	return c.tracking, nil
}

// GetHealthChecker returns a checker covering the store and, when
// configured, the archive.
func (c *Container) GetHealthChecker(ctx context.Context) (*health.HealthChecker, error) {
	store, err := c.GetStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get store for health checker: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker == nil {
		checker := health.NewHealthChecker()
		checker.Register("store", health.WithTimeout(store.Ping, 5*time.Second))
		if c.mongo != nil {
			client := c.mongo
			checker.Register("archive", health.WithTimeout(func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			}, 5*time.Second))
		}
		c.healthChecker = checker
	}
	return c.healthChecker, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
