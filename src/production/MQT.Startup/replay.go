package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	telemetry "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Telemetry"
)

// maxReplayLine bounds a single captured message
const maxReplayLine = 1 << 20

type capturedMessage struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

type eventHandler interface {
	HandleEvent(ctx context.Context, ev telemetry.Event) error
}

type replayStats struct {
	Applied   int
	Discarded int
	Malformed int
	Failed    int
}

// replay applies captured messages in file order
func replay(ctx context.Context, r io.Reader, handler eventHandler, log *logger.Logger) (replayStats, error) {
	var stats replayStats
	log = log.WithComponent("replay")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var msg capturedMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			stats.Malformed++
			log.WithField("line", line).WithError(err).Warn("Skipping unreadable line")
			continue
		}

		ev, err := telemetry.Decode(msg.Topic, []byte(msg.Payload))
		if err != nil {
			stats.Malformed++
			log.WithField("line", line).WithError(err).Warn("Skipping malformed message")
			continue
		}
		if ev.Kind == telemetry.KindDiscard {
			stats.Discarded++
			continue
		}

		if err := handler.HandleEvent(ctx, ev); err != nil {
			stats.Failed++
			log.WithField("line", line).WithDevice(ev.DeviceID).ErrorWithError(err, "Failed to apply message")
			continue
		}
		stats.Applied++
	}
	return stats, scanner.Err()
}
