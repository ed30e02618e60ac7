// Package ingest turns broker messages into stored readings.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ocuzn/sensors-server/internal/metrics"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/repository"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

const (
	topicNamespace = "sensors"
	topicLeaf      = "data"

	// maxLoggedPayload bounds how much of a rejected body ends up in a log line.
	maxLoggedPayload = 256
)

// Topic returns the publish topic for a device.
func Topic(deviceID string) string {
	return topicNamespace + "/" + deviceID + "/" + topicLeaf
}

// ParseTopic extracts the device id from sensors/{device_id}/data.
func ParseTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", fmt.Errorf("topic %q: want 3 segments, got %d: %w", topic, len(parts), types.ErrParse)
	}
	if parts[0] != topicNamespace || parts[2] != topicLeaf {
		return "", fmt.Errorf("topic %q: want %s/{device_id}/%s: %w", topic, topicNamespace, topicLeaf, types.ErrParse)
	}
	if parts[1] == "" {
		return "", fmt.Errorf("topic %q: empty device id: %w", topic, types.ErrParse)
	}
	return parts[1], nil
}

// DecodePayload parses a message body as a JSON object. Arrays, scalars,
// null and trailing data are rejected.
func DecodePayload(body []byte) (types.Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload: %w", types.ErrParse)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("payload is not a JSON object: %w", types.ErrParse)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var p types.Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w: %w", types.ErrParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after payload object: %w", types.ErrParse)
	}
	if p == nil {
		p = types.Payload{}
	}
	return p, nil
}

// Handler is the single writer of readings. It is safe for concurrent use.
type Handler struct {
	repository repository.SensorRepository
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewHandler(repository repository.SensorRepository, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repository: repository, logger: logger, metrics: m}
}

// Handle processes one delivered message. A returned error is terminal for
// that message only; it has already been logged and counted.
func (h *Handler) Handle(ctx context.Context, topic string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest %s: recovered: %v: %w", topic, r, types.ErrParse)
			h.logger.Error("ingest panic", "topic", topic, "panic", r)
			h.metrics.IngestMessage(metrics.ResultParseError)
		}
	}()

	deviceID, err := ParseTopic(topic)
	if err != nil {
		h.logger.Warn("dropping message with malformed topic", "topic", topic, "error", err)
		h.metrics.IngestMessage(metrics.ResultParseError)
		return err
	}

	payload, err := DecodePayload(body)
	if err != nil {
		h.logger.Warn("dropping message with malformed payload",
			"topic", topic,
			"device_id", deviceID,
			"error", err,
			"payload", truncate(body, maxLoggedPayload),
		)
		h.metrics.IngestMessage(metrics.ResultParseError)
		return err
	}

	reading, err := h.repository.InsertReading(ctx, deviceID, payload)
	if err != nil {
		h.logger.Error("failed to store reading", "device_id", deviceID, "error", err)
		h.metrics.IngestMessage(metrics.ResultStorageError)
		if !errors.Is(err, types.ErrStorage) {
			err = types.StorageError("insert reading", err)
		}
		return err
	}

	h.metrics.IngestMessage(metrics.ResultStored)
	h.logger.Debug("stored reading",
		"id", reading.ID,
		"device_id", deviceID,
		"metrics", len(payload),
	)
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
