package mqtingestor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
	telemetry "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Telemetry"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []telemetry.Event
	fail   func(ev telemetry.Event) error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, ev telemetry.Event) error {
	if h.fail != nil {
		if err := h.fail(ev); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) snapshot() []telemetry.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]telemetry.Event(nil), h.events...)
}

type memoryArchive struct {
	mu   sync.Mutex
	msgs []mqtmodels.RawMessage
}

func (a *memoryArchive) InsertOne(ctx context.Context, msg mqtmodels.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return nil
}

func testConfig(workers int) *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			BrokerHost: "localhost",
			BrokerPort: 1883,
			TopicRoot:  "DTU/walter",
			ClientID:   "test",
		},
		Ingest: config.IngestConfig{
			Workers:   workers,
			QueueSize: 16,
		},
	}
}

func msg(topic, body string) feedMessage {
	return feedMessage{Topic: topic, Payload: []byte(body), ReceivedAt: time.Now().UTC()}
}

func TestTopics(t *testing.T) {
	cfg := testConfig(1)
	ing := New(cfg, &recordingHandler{}, nil, logger.Nop())
	assert.Equal(t, map[string]byte{
		"DTU/walter/newdevices/+": 1,
		"DTU/walter/devices/+":    1,
	}, ing.Topics())

	cfg.MQTT.SharedGroup = "trackers"
	shared := New(cfg, &recordingHandler{}, nil, logger.Nop())
	assert.Contains(t, shared.Topics(), "$share/trackers/DTU/walter/devices/+")
}

func TestProcessDispatchesDecodedEvents(t *testing.T) {
	handler := &recordingHandler{}
	archive := &memoryArchive{}
	ing := New(testConfig(1), handler, archive, logger.Nop())

	ing.process(context.Background(), 0, msg("DTU/walter/newdevices/AA", ""))
	ing.process(context.Background(), 0, msg("DTU/walter/devices/AA", `{"MAC_adr":"AA","Latitude":55,"Longitude":10,"Confidence":5}`))

	events := handler.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, telemetry.KindRegistration, events[0].Kind)
	assert.Equal(t, telemetry.KindPosition, events[1].Kind)

	require.Len(t, archive.msgs, 2)
	assert.Equal(t, "registration", archive.msgs[0].Kind)
	assert.Equal(t, "AA", archive.msgs[1].DeviceID)
}

func TestProcessDropsMalformedMessage(t *testing.T) {
	handler := &recordingHandler{}
	archive := &memoryArchive{}
	ing := New(testConfig(1), handler, archive, logger.Nop())
	before := testutil.ToFloat64(metrics.MessagesDropped.WithLabelValues("decode_error"))

	ing.process(context.Background(), 0, msg("DTU/walter/devices/AA", "not json"))

	assert.Empty(t, handler.snapshot())
	require.Len(t, archive.msgs, 1)
	assert.Equal(t, "decode_error", archive.msgs[0].Kind)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MessagesDropped.WithLabelValues("decode_error")))
}

func TestProcessContainsFailures(t *testing.T) {
	handler := &recordingHandler{fail: func(ev telemetry.Event) error {
		switch ev.DeviceID {
		case "PANIC":
			panic("boom")
		case "GONE":
			return fmt.Errorf("append: %w", interfaces.ErrReferential)
		case "DOWN":
			return errors.New("connection refused")
		}
		return nil
	}}
	ing := New(testConfig(1), handler, nil, logger.Nop())

	assert.NotPanics(t, func() {
		ing.process(context.Background(), 0, msg("DTU/walter/newdevices/PANIC", ""))
		ing.process(context.Background(), 0, msg("DTU/walter/newdevices/GONE", ""))
		ing.process(context.Background(), 0, msg("DTU/walter/newdevices/DOWN", ""))
		ing.process(context.Background(), 0, msg("DTU/walter/newdevices/OK", ""))
	})

	events := handler.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "OK", events[0].DeviceID)
}

func TestWorkersDrainQueueOnStop(t *testing.T) {
	handler := &recordingHandler{}
	ing := New(testConfig(4), handler, nil, logger.Nop())
	ing.startWorkers(context.Background())

	const total = 50
	for n := 0; n < total; n++ {
		ing.enqueue(msg(fmt.Sprintf("DTU/walter/newdevices/DEV%02d", n), ""))
	}
	ing.Stop()

	assert.Len(t, handler.snapshot(), total)
	assert.False(t, ing.IsConnected())

	// messages arriving after shutdown are dropped, not blocked on
	done := make(chan struct{})
	go func() {
		ing.enqueue(msg("DTU/walter/newdevices/LATE", ""))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked after Stop")
	}
}

func TestWorkerSurvivesCancelledContext(t *testing.T) {
	handler := &recordingHandler{}
	ing := New(testConfig(2), handler, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ing.startWorkers(ctx)
	cancel()

	ing.enqueue(msg("DTU/walter/newdevices/AFTER", ""))
	ing.Stop()
	assert.Len(t, handler.snapshot(), 1)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "devices", channelOf("DTU/walter/devices/AA"))
	assert.Equal(t, "unknown", channelOf("DTU"))
	assert.Equal(t, "AA", deviceOf("DTU/walter/devices/AA"))
	assert.Equal(t, "unknown", deviceOf("DTU/walter/devices"))
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// publishingClient records publishes; the embedded client is never called
type publishingClient struct {
	mqtt.Client
	mu        sync.Mutex
	published map[string][]byte
}

func (c *publishingClient) IsConnected() bool { return true }

func (c *publishingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = map[string][]byte{}
	}
	c.published[topic] = payload.([]byte)
	return doneToken{}
}

func TestPublishErrorIsOptInAndRateLimited(t *testing.T) {
	cfg := testConfig(1)
	client := &publishingClient{}

	off := New(cfg, &recordingHandler{}, nil, logger.Nop())
	off.mqttClient = client
	off.publishError("DTU/walter/devices/AA", "decode_error", "bad body")
	assert.Empty(t, client.published)

	cfg.Ingest.PublishErrors = true
	cfg.Ingest.ErrorReportRate = 0.001
	on := New(cfg, &recordingHandler{}, nil, logger.Nop())
	on.mqttClient = client
	on.publishError("DTU/walter/devices/AA", "decode_error", "bad body")
	on.publishError("DTU/walter/devices/BB", "decode_error", "bad body")

	require.Len(t, client.published, 1)
	assert.Contains(t, string(client.published["DTU/walter/errors/AA"]), `"error_type":"decode_error"`)
}
