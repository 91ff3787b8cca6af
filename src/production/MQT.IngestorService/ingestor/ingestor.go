package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
	telemetry "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Telemetry"
	"golang.org/x/time/rate"
)

// messageTimeout bounds the storage work for one feed message
const messageTimeout = 30 * time.Second

// EventHandler applies decoded feed events to storage
type EventHandler interface {
	HandleEvent(ctx context.Context, ev telemetry.Event) error
}

type feedMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Ingestor owns the broker connection and a fixed pool of workers that
// decode and apply feed messages. A failure or panic while handling one
// message is logged and never reaches the subscription.
type Ingestor struct {
	mqttCfg    config.MQTTConfig
	ingestCfg  config.IngestConfig
	handler    EventHandler
	archive    interfaces.RawMessageArchive
	mqttClient mqtt.Client
	msgCh      chan feedMessage
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	brokerURL  string
	reportRate *rate.Limiter
	logger     *logger.Logger
}

// New creates an ingestor. archive may be nil.
func New(cfg *config.Config, handler EventHandler, archive interfaces.RawMessageArchive, log *logger.Logger) *Ingestor {
	return &Ingestor{
		mqttCfg:    cfg.MQTT,
		ingestCfg:  cfg.Ingest,
		handler:    handler,
		archive:    archive,
		msgCh:      make(chan feedMessage, cfg.Ingest.QueueSize),
		done:       make(chan struct{}),
		brokerURL:  cfg.GetMQTTBrokerURL(),
		reportRate: rate.NewLimiter(rate.Limit(cfg.Ingest.ErrorReportRate), max(1, int(cfg.Ingest.ErrorReportRate))),
		logger:     log.WithComponent("ingestor"),
	}
}

// Topics returns the subscriptions with their QoS
func (i *Ingestor) Topics() map[string]byte {
	prefix := ""
	if i.mqttCfg.SharedGroup != "" {
		prefix = fmt.Sprintf("$share/%s/", i.mqttCfg.SharedGroup)
	}
	return map[string]byte{
		prefix + i.mqttCfg.TopicRoot + "/" + telemetry.ChannelNewDevices + "/+": 1,
		prefix + i.mqttCfg.TopicRoot + "/" + telemetry.ChannelDevices + "/+":    1,
	}
}

// Start launches the workers and connects to the broker. Subscriptions are
// renewed on every reconnect.
func (i *Ingestor) Start(ctx context.Context) error {
	i.startWorkers(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(i.brokerURL).
		SetClientID(i.mqttCfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(i.mqttCfg.KeepAlive).
		SetPingTimeout(i.mqttCfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if i.mqttCfg.BrokerUser != "" {
		opts.SetUsername(i.mqttCfg.BrokerUser)
		opts.SetPassword(i.mqttCfg.BrokerPass)
	}

	if i.mqttCfg.UseTLS {
		tlsCfg, err := i.tlsConfig(i.mqttCfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		metrics.BrokerConnected.Set(0)
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		metrics.BrokerConnected.Set(1)
		topics := i.Topics()
		i.logger.Logger.Info().Interface("topics", topics).Msg("MQTT connected, subscribing to topics")
		if token := c.SubscribeMultiple(topics, i.onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Msg("Failed to subscribe to MQTT topics")
		}
	}

	i.mqttClient = mqtt.NewClient(opts)
	if tk := i.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}
	return nil
}

// Stop disconnects from the broker, lets the workers finish the queued
// messages and waits for them.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		if i.mqttClient != nil && i.mqttClient.IsConnected() {
			i.mqttClient.Disconnect(500)
		}
		metrics.BrokerConnected.Set(0)
		close(i.done)
		i.wg.Wait()
	})
}

func (i *Ingestor) IsConnected() bool {
	return i.mqttClient != nil && i.mqttClient.IsConnected()
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.enqueue(feedMessage{
		Topic:      m.Topic(),
		Payload:    m.Payload(),
		ReceivedAt: time.Now().UTC(),
	})
}

// enqueue blocks while the queue is full so the broker client buffers
// instead of messages being lost.
func (i *Ingestor) enqueue(msg feedMessage) {
	metrics.MessagesReceived.WithLabelValues(channelOf(msg.Topic)).Inc()
	i.logger.Logger.Debug().Str("topic", msg.Topic).Str("payload", string(msg.Payload)).Msg("Received MQTT message")

	select {
	case i.msgCh <- msg:
		metrics.QueueDepth.Set(float64(len(i.msgCh)))
	case <-i.done:
		metrics.MessagesDropped.WithLabelValues("shutdown").Inc()
		i.logger.Logger.Warn().Str("topic", msg.Topic).Msg("Dropping message received during shutdown")
	}
}

func (i *Ingestor) startWorkers(ctx context.Context) {
	// in-flight messages are allowed to complete after ctx is cancelled
	base := context.WithoutCancel(ctx)
	for n := 0; n < i.ingestCfg.Workers; n++ {
		i.wg.Add(1)
		go func(id int) {
			defer i.wg.Done()
			i.worker(base, id)
		}(n)
	}
}

func (i *Ingestor) worker(ctx context.Context, id int) {
	for {
		select {
		case msg := <-i.msgCh:
			metrics.QueueDepth.Set(float64(len(i.msgCh)))
			i.process(ctx, id, msg)
		case <-i.done:
			for {
				select {
				case msg := <-i.msgCh:
					i.process(ctx, id, msg)
				default:
					return
				}
			}
		}
	}
}

// process decodes and applies one message
func (i *Ingestor) process(ctx context.Context, worker int, msg feedMessage) {
	log := i.logger.WithFields(map[string]interface{}{"worker": worker, "topic": msg.Topic})
	kind := "unknown"
	timer := metrics.NewTimer()

	defer func() {
		if r := recover(); r != nil {
			metrics.MessagesDropped.WithLabelValues("panic").Inc()
			log.Logger.Error().Interface("panic", r).Msg("Recovered from panic while handling message")
		}
		timer.ObserveDurationVec(metrics.MessageDuration, kind)
	}()

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	ev, decodeErr := telemetry.Decode(msg.Topic, msg.Payload)
	if decodeErr == nil {
		kind = ev.Kind.String()
		log = log.WithDevice(ev.DeviceID)
	}
	i.archiveMessage(ctx, log, msg, ev, decodeErr)

	if decodeErr != nil {
		metrics.MessagesDropped.WithLabelValues("decode_error").Inc()
		log.WithError(decodeErr).Warn("Dropping malformed message")
		i.publishError(msg.Topic, "decode_error", decodeErr.Error())
		return
	}

	if err := i.handler.HandleEvent(ctx, ev); err != nil {
		metrics.MessagesProcessed.WithLabelValues(kind, "error").Inc()
		if errors.Is(err, interfaces.ErrReferential) {
			log.WithField("invariant", "history_requires_device").ErrorWithError(err, "History append referenced a missing device")
			return
		}
		log.ErrorWithError(err, "Failed to handle message")
		i.publishError(msg.Topic, "storage_error", err.Error())
		return
	}

	metrics.MessagesProcessed.WithLabelValues(kind, "ok").Inc()
	log.Debug("Handled message")
}

func (i *Ingestor) archiveMessage(ctx context.Context, log *logger.Logger, msg feedMessage, ev telemetry.Event, decodeErr error) {
	if i.archive == nil {
		return
	}
	raw := mqtmodels.RawMessage{
		Topic:      msg.Topic,
		DeviceID:   ev.DeviceID,
		Kind:       ev.Kind.String(),
		Payload:    string(msg.Payload),
		ReceivedAt: msg.ReceivedAt,
	}
	if decodeErr != nil {
		raw.Kind = "decode_error"
	}
	if err := i.archive.InsertOne(ctx, raw); err != nil {
		log.WithError(err).Warn("Failed to archive raw message")
	}
}

func (i *Ingestor) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// publishError reports a rejected message on <root>/errors/<deviceId> when
// error publishing is enabled.
func (i *Ingestor) publishError(topic, errorType, message string) {
	if !i.ingestCfg.PublishErrors || i.mqttClient == nil || !i.mqttClient.IsConnected() {
		return
	}
	if !i.reportRate.Allow() {
		i.logger.WithField("topic", topic).Debug("Error report rate exceeded")
		return
	}

	deviceID := deviceOf(topic)
	errorPayload := map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"device_id":  deviceID,
		"topic":      topic,
		"timestamp":  time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(errorPayload)
	if err != nil {
		i.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	errorTopic := fmt.Sprintf("%s/errors/%s", i.mqttCfg.TopicRoot, deviceID)
	token := i.mqttClient.Publish(errorTopic, 1, false, payloadJSON)

	if token.Wait() && token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Str("topic", errorTopic).Msg("Failed to publish error")
	} else {
		i.logger.Logger.Info().Str("topic", errorTopic).Str("message", message).Msg("Published error")
	}
}

func channelOf(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[2]
}

func deviceOf(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[3] == "" {
		return "unknown"
	}
	return parts[3]
}
