package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l := New(&buf).WithComponent("router").WithDevice("AA:BB:CC:DD").WithError(errors.New("boom"))

	l.Warn("message dropped")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "router", entry["component"])
	assert.Equal(t, "AA:BB:CC:DD", entry["device"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "message dropped", entry["message"])
}

func TestWithFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	New(&buf).WithFields(map[string]interface{}{"topic": "DTU/walter/devices/x", "worker": 3}).Info("queued")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DTU/walter/devices/x", entry["topic"])
	assert.EqualValues(t, 3, entry["worker"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() { Nop().WithComponent("x").Error("nothing") })
}
