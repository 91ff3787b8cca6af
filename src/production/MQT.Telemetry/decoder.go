// Package telemetry turns raw feed messages into typed device events.
//
// Topics have the shape <root>/<channel>/<deviceId> with a two-segment root,
// so the channel kind is the third segment and the device id the fourth.
// Storage code never looks at payload bytes; it only sees Event values.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

const (
	ChannelNewDevices = "newdevices"
	ChannelDevices    = "devices"

	// HelloPrefix starts a heartbeat body; the rest is the device id.
	HelloPrefix = "Hello, I am "

	// MaxConfidence is the worst confidence score still accepted. Higher
	// scores mean a poorer fix.
	MaxConfidence = 100.0
)

// Kind identifies which variant an Event carries
type Kind int

const (
	KindRegistration Kind = iota + 1
	KindHeartbeat
	KindPosition
	KindDiscard
)

func (k Kind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindHeartbeat:
		return "heartbeat"
	case KindPosition:
		return "position"
	case KindDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Event is a decoded feed message. Position and Confidence are only set for
// KindPosition and KindDiscard.
type Event struct {
	Kind       Kind
	DeviceID   string
	Position   mqtmodels.Position
	Confidence float64
}

// DecodeError reports a malformed or unrecognized message
type DecodeError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Topic, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// positionRecord is the JSON body sent by devices on the devices channel
type positionRecord struct {
	MACAdr     string   `json:"MAC_adr"`
	Latitude   *float64 `json:"Latitude"`
	Longitude  *float64 `json:"Longitude"`
	Confidence *float64 `json:"Confidence"`
}

// Decode parses a message received on topic. It returns a *DecodeError when
// the message cannot be attributed to a device or is malformed.
func Decode(topic string, payload []byte) (Event, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return Event{}, &DecodeError{Topic: topic, Reason: "topic has no channel segment"}
	}
	channel := parts[2]
	topicDevice := ""
	if len(parts) >= 4 {
		topicDevice = parts[3]
	}

	switch channel {
	case ChannelNewDevices:
		if topicDevice == "" {
			return Event{}, &DecodeError{Topic: topic, Reason: "registration without device id"}
		}
		return Event{Kind: KindRegistration, DeviceID: topicDevice}, nil
	case ChannelDevices:
		return decodeDeviceBody(topic, topicDevice, payload)
	default:
		return Event{}, &DecodeError{Topic: topic, Reason: fmt.Sprintf("unrecognized channel %q", channel)}
	}
}

func decodeDeviceBody(topic, topicDevice string, payload []byte) (Event, error) {
	body := string(payload)
	if strings.HasPrefix(body, HelloPrefix) {
		id := strings.TrimSpace(body[len(HelloPrefix):])
		if id == "" {
			return Event{}, &DecodeError{Topic: topic, Reason: "heartbeat without device id"}
		}
		return Event{Kind: KindHeartbeat, DeviceID: id}, nil
	}

	var rec positionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Event{}, &DecodeError{Topic: topic, Reason: "invalid position record", Err: err}
	}
	if rec.Latitude == nil || rec.Longitude == nil {
		return Event{}, &DecodeError{Topic: topic, Reason: "position record without coordinates"}
	}
	lat, lon := *rec.Latitude, *rec.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Event{}, &DecodeError{Topic: topic, Reason: fmt.Sprintf("coordinates out of range (%g, %g)", lat, lon)}
	}

	id := rec.MACAdr
	if id == "" {
		id = topicDevice
	}
	if id == "" {
		return Event{}, &DecodeError{Topic: topic, Reason: "position record without device id"}
	}

	ev := Event{
		Kind:     KindPosition,
		DeviceID: id,
		Position: mqtmodels.Position{Latitude: lat, Longitude: lon},
	}
	if rec.Confidence != nil {
		ev.Confidence = *rec.Confidence
	}
	if ev.Confidence > MaxConfidence {
		ev.Kind = KindDiscard
	}
	return ev, nil
}
