// v1
// internal/led/mqtt.go
package led

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mais4719/air-quality-monitoring/internal/level"
)

// MQTTSink publishes frames to the LED controller's command topic.
// Frames are retained so a controller that reconnects picks up the
// current color immediately.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	builder *frameBuilder
	lg      *slog.Logger
}

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Topic    string
	Options  Options
}

func NewMQTTSink(cfg MQTTConfig, lg *slog.Logger) (*MQTTSink, error) {
	builder, err := newFrameBuilder(cfg.Options)
	if err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt led topic must not be empty")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	lg.Info("mqtt_led_sink_connected", slog.String("broker", cfg.Broker), slog.String("topic", cfg.Topic))
	return &MQTTSink{client: client, topic: cfg.Topic, builder: builder, lg: lg}, nil
}

func (s *MQTTSink) Set(ctx context.Context, c level.Color, intensity float64) error {
	return s.publish(ctx, s.builder.next(c, intensity))
}

func (s *MQTTSink) Off(ctx context.Context) error {
	return s.publish(ctx, s.builder.off())
}

func (s *MQTTSink) publish(ctx context.Context, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal led frame: %w", err)
	}
	token := s.client.Publish(s.topic, 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish led frame: %w", err)
	}
	return nil
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
