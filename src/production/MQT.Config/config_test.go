package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: StoreDriverBolt, BoltPath: "gnss.db"},
		MQTT:     MQTTConfig{TopicRoot: "DTU/walter"},
		Ingest:   IngestConfig{Workers: 4, QueueSize: 16},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid bolt", mutate: func(c *Config) {}},
		{
			name:    "postgres without user",
			mutate:  func(c *Config) { c.Database.Driver = StoreDriverPostgres },
			wantErr: "POSTGRES_USER",
		},
		{
			name: "postgres with credentials",
			mutate: func(c *Config) {
				c.Database.Driver = StoreDriverPostgres
				c.Database.User = "gnss"
				c.Database.Password = "secret"
			},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantErr: "unknown STORE_DRIVER",
		},
		{
			name:    "single segment root",
			mutate:  func(c *Config) { c.MQTT.TopicRoot = "walter" },
			wantErr: "MQTT_TOPIC_ROOT",
		},
		{
			name:    "three segment root",
			mutate:  func(c *Config) { c.MQTT.TopicRoot = "DTU/walter/extra" },
			wantErr: "MQTT_TOPIC_ROOT",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Ingest.Workers = 0 },
			wantErr: "INGEST_WORKERS",
		},
		{
			name:    "zero queue",
			mutate:  func(c *Config) { c.Ingest.QueueSize = 0 },
			wantErr: "INGEST_QUEUE_SIZE",
		},
		{
			name:    "negative error report rate",
			mutate:  func(c *Config) { c.Ingest.ErrorReportRate = -1 },
			wantErr: "INGEST_ERROR_REPORT_RATE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTrimsTopicRoot(t *testing.T) {
	cfg := validConfig()
	cfg.MQTT.TopicRoot = "/DTU/walter/"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "DTU/walter", cfg.MQTT.TopicRoot)
}

func TestLoadApiConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", StoreDriverBolt)
	t.Setenv("BOLT_PATH", "/tmp/gnss-test.db")
	t.Setenv("PORT", "8181")
	t.Setenv("INGEST_WORKERS", "3")
	t.Setenv("INGEST_REEVALUATE_GEOFENCE", "false")
	t.Setenv("MQTT_KEEP_ALIVE", "45s")
	t.Setenv("INGEST_ERROR_REPORT_RATE", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")

	cfg, err := LoadApiConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "/tmp/gnss-test.db", cfg.Database.BoltPath)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.False(t, cfg.Ingest.ReevaluateGeofence)
	assert.Equal(t, 45*time.Second, cfg.MQTT.KeepAlive)
	assert.Equal(t, 0.5, cfg.Ingest.ErrorReportRate)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "DTU/walter", cfg.MQTT.TopicRoot)
	assert.False(t, cfg.Archive.Enabled())
}

func TestGetMQTTBrokerURL(t *testing.T) {
	cfg := validConfig()
	cfg.MQTT.BrokerHost = "broker.local"
	cfg.MQTT.BrokerPort = 8883
	assert.Equal(t, "tcp://broker.local:8883", cfg.GetMQTTBrokerURL())

	cfg.MQTT.UseTLS = true
	assert.Equal(t, "tcps://broker.local:8883", cfg.GetMQTTBrokerURL())
}
