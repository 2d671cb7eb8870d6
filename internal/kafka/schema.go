package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Reader is the subset of kafka.Reader the consumers depend on; tests swap in
// a fake without a broker.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TelemetryMessage is the envelope published on the telemetry topic. Only the
// device id and timestamp matter to presence tracking; the payload passes
// through untouched.
type TelemetryMessage struct {
	DeviceID  int64                  `json:"device_id"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
