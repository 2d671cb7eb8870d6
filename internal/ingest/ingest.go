// Package ingest consumes telemetry from the message bus and feeds device
// activity into the presence tracker. This is the asynchronous twin of the
// HTTP telemetry endpoint; both paths may observe the same device at nearly
// the same time, which the cache's last-write-wins keys absorb.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"iotflow-presence/internal/cache"
	k "iotflow-presence/internal/kafka"
	"iotflow-presence/internal/worker"

	"github.com/segmentio/kafka-go"
)

var (
	ErrReadMessage  = errors.New("error reading message")
	ErrInvalidEvent = errors.New("invalid event")
)

// ActivityTracker is the presence operation ingestion feeds. Its result is
// deliberately ignored: activity tracking is best-effort and must never fail
// message consumption.
type ActivityTracker interface {
	UpdateDeviceActivity(ctx context.Context, deviceID cache.DeviceID) bool
}

type Config struct {
	Brokers         string
	ConsumerGroupID string
	ConsumerTopic   string
	Tracker         ActivityTracker

	// Reader overrides the kafka reader, for tests.
	Reader k.Reader
}

type Consumer struct {
	worker  *worker.Worker
	reader  k.Reader
	tracker ActivityTracker
}

func New(cfg Config) *Consumer {
	reader := cfg.Reader
	if reader == nil {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.Brokers},
			GroupID: cfg.ConsumerGroupID,
			Topic:   cfg.ConsumerTopic,
		})
	}

	consumer := &Consumer{
		reader:  reader,
		tracker: cfg.Tracker,
	}
	consumer.worker = worker.New(worker.Config{
		Name:      "telemetry-consumer",
		Processor: consumer,
	})
	return consumer
}

func (c *Consumer) Run(ctx context.Context) {
	c.worker.Run(ctx)
}

func (c *Consumer) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing telemetry consumer...")
	c.reader.Close()
}

// Auto-commit active
func (c *Consumer) ProcessMessage(ctx context.Context) error {
	const fn = "Consumer:ProcessMessage"
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s:%w:%w", fn, ErrReadMessage, err)
	}

	var msg k.TelemetryMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		slog.ErrorContext(ctx, "Error parsing telemetry JSON, skipping", "error", err)
		return nil
	}
	if msg.DeviceID <= 0 {
		slog.InfoContext(ctx, "Telemetry without a valid device id, skipping",
			"device_id", msg.DeviceID,
			"timestamp", msg.Timestamp,
		)
		return nil
	}

	c.tracker.UpdateDeviceActivity(ctx, cache.DeviceID(msg.DeviceID))
	slog.DebugContext(ctx, "Recorded device activity from bus", "device_id", msg.DeviceID)
	return nil
}
