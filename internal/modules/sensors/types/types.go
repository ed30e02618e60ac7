package types

import (
	"fmt"
	"time"
)

// TimestampLayout is fixed width so that lexical order of stored values is
// chronological order; range scans on the (device_id, timestamp) index rely on it.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Payload maps metric names to scalar values as decoded from JSON
// (float64, string, bool).
type Payload map[string]any

type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	SensorData Payload   `json:"sensor_data"`
	CreatedAt  time.Time `json:"created_at"`
}

type DeviceSummary struct {
	DeviceID     string    `json:"device_id"`
	ReadingCount int64     `json:"reading_count"`
	LastReading  time.Time `json:"last_reading"`
	FirstReading time.Time `json:"first_reading"`
}

// MetricPoint is one extracted metric value. SensorValue holds the single
// scalar, not the full payload.
type MetricPoint struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	SensorValue any       `json:"sensor_value"`
}

type Stats struct {
	DeviceID      string    `json:"-"`
	TotalReadings int64     `json:"total_readings"`
	FirstReading  time.Time `json:"first_reading"`
	LastReading   time.Time `json:"last_reading"`
}

// ExtractMetric returns the named metric from a payload. Missing keys and
// JSON nulls both report ok=false.
func ExtractMetric(p Payload, metric string) (any, bool) {
	v, ok := p[metric]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ExtractSeries projects readings onto a single metric, dropping readings
// that do not carry it. Order is preserved and at most limit points are kept.
func ExtractSeries(readings []Reading, metric string, limit int) []MetricPoint {
	out := make([]MetricPoint, 0, min(len(readings), limit))
	for _, r := range readings {
		if len(out) >= limit {
			break
		}
		v, ok := ExtractMetric(r.SensorData, metric)
		if !ok {
			continue
		}
		out = append(out, MetricPoint{
			ID:          r.ID,
			DeviceID:    r.DeviceID,
			Timestamp:   r.Timestamp,
			SensorValue: v,
		})
	}
	return out
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the storage layout and falls back to RFC 3339 for
// values written by SQLite itself (created_at).
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	t, err2 := time.Parse(time.RFC3339Nano, s)
	if err2 != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w; RFC3339: %w", s, err, err2)
	}
	return t.UTC(), nil
}
