package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ocuzn/sensors-server/internal/config"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/ingest"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

const publishTimeout = 5 * time.Second

// Publisher sends readings the way a device would. It backs the maintenance
// CLI and end-to-end tests.
type Publisher struct {
	client mqtt.Client
	cfg    config.Config
	logger *slog.Logger
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	return newPublisher(cfg, logger, mqtt.NewClient)
}

func newPublisher(cfg config.Config, logger *slog.Logger, newClient clientFactory) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	opts := clientOptions(cfg)
	// A publisher should fail fast instead of queueing behind retries.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(false)
	return &Publisher{client: newClient(opts), cfg: cfg, logger: logger.With("component", "mqtt-publisher")}
}

// Connect establishes the connection, respecting ctx.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		p.logger.Debug("mqtt publisher connected", "broker", p.cfg.MQTTBroker)
		return nil
	case <-ctx.Done():
		p.client.Disconnect(0)
		return ctx.Err()
	}
}

// Publish encodes payload as JSON and publishes it to sensors/{deviceID}/data.
func (p *Publisher) Publish(deviceID string, payload types.Payload) error {
	if deviceID == "" {
		return fmt.Errorf("publish: empty device id")
	}
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.PublishRaw(ingest.Topic(deviceID), data)
}

// PublishRaw publishes bytes verbatim to topic.
func (p *Publisher) PublishRaw(topic string, data []byte) error {
	token := p.client.Publish(topic, p.cfg.MQTTQoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish", "topic", topic, "error", err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug("published", "topic", topic, "size", len(data))
	return nil
}

func (p *Publisher) Disconnect() {
	p.client.Disconnect(quiesceMillis)
}
