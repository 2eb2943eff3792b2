// v1
// internal/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mais4719/air-quality-monitoring/internal/level"
)

// TickEvent is the record emitted after each published scheduler tick so
// downstream consumers (dashboards, alerting) can follow the consensus
// stream without polling the REST API.
type TickEvent struct {
	ConsensusAQI      *float64    `json:"consensusAqi"`
	LevelName         string      `json:"levelName"`
	Color             level.Color `json:"color"`
	SensorsReporting  int         `json:"sensorsReporting"`
	SensorsConfigured int         `json:"sensorsConfigured"`
	Gated             bool        `json:"gated"`
	Timestamp         time.Time   `json:"timestamp"`
}

// Publisher writes tick events to a Kafka topic. It is optional wiring:
// the scheduler treats publish failures as log-and-continue, never as a
// tick failure.
type Publisher struct {
	writer *kafka.Writer
	lg     *slog.Logger
}

func NewPublisher(brokers []string, topic string, lg *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("events topic must not be empty")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	lg.Info("events_publisher_ready", slog.String("topic", topic))
	return &Publisher{writer: w, lg: lg}, nil
}

// Publish emits one tick event, keyed by level name so consumers that
// only care about band transitions can compact the stream.
func (p *Publisher) Publish(ctx context.Context, ev TickEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal tick event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.LevelName),
		Value: payload,
		Time:  ev.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write tick event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
