package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/repository"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

const (
	DefaultHours = 24
	DefaultLimit = 100
	MaxHours     = 8760 // one year
	MaxLimit     = 10000

	maxMetricNameLen = 128
)

type Parameters struct {
	Hours int `json:"hours"`
	Limit int `json:"limit"`
}

type HistoryResult struct {
	DeviceID   string          `json:"device_id"`
	Count      int             `json:"count"`
	Parameters Parameters      `json:"parameters"`
	Data       []types.Reading `json:"data"`
}

type MetricSeriesResult struct {
	DeviceID   string              `json:"device_id"`
	SensorType string              `json:"sensor_type"`
	Count      int                 `json:"count"`
	Parameters Parameters          `json:"parameters"`
	Readings   []types.MetricPoint `json:"readings"`
}

type TimeRange struct {
	Hours int       `json:"hours"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

type StatsResult struct {
	DeviceID   string      `json:"device_id"`
	TimeRange  TimeRange   `json:"time_range"`
	Statistics types.Stats `json:"statistics"`
}

// Service is the read side over the sensor store. It validates parameters
// before touching storage and never writes.
type Service struct {
	repository repository.SensorRepository
	now        func() time.Time
}

func NewService(repository repository.SensorRepository) *Service {
	return &Service{repository: repository, now: time.Now}
}

// WithClock replaces the clock used to compute query windows.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) ListDevices(ctx context.Context) ([]types.DeviceSummary, error) {
	return s.repository.GetDevices(ctx)
}

// Latest returns types.ErrNotFound when the device has no readings.
func (s *Service) Latest(ctx context.Context, deviceID string) (types.Reading, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return types.Reading{}, err
	}
	return s.repository.GetLatestReading(ctx, deviceID)
}

func (s *Service) Historical(ctx context.Context, deviceID string, hours, limit int) (HistoryResult, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return HistoryResult{}, err
	}
	if err := ValidateHours(hours); err != nil {
		return HistoryResult{}, err
	}
	if err := ValidateLimit(limit); err != nil {
		return HistoryResult{}, err
	}

	since := s.windowStart(hours)
	readings, err := s.repository.GetReadings(ctx, deviceID, since, limit)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{
		DeviceID:   deviceID,
		Count:      len(readings),
		Parameters: Parameters{Hours: hours, Limit: limit},
		Data:       readings,
	}, nil
}

func (s *Service) MetricSeries(ctx context.Context, deviceID, metric string, hours, limit int) (MetricSeriesResult, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return MetricSeriesResult{}, err
	}
	if err := validateMetric(metric); err != nil {
		return MetricSeriesResult{}, err
	}
	if err := ValidateHours(hours); err != nil {
		return MetricSeriesResult{}, err
	}
	if err := ValidateLimit(limit); err != nil {
		return MetricSeriesResult{}, err
	}

	since := s.windowStart(hours)
	points, err := s.repository.GetMetricSeries(ctx, deviceID, metric, since, limit)
	if err != nil {
		return MetricSeriesResult{}, err
	}
	return MetricSeriesResult{
		DeviceID:   deviceID,
		SensorType: metric,
		Count:      len(points),
		Parameters: Parameters{Hours: hours, Limit: limit},
		Readings:   points,
	}, nil
}

// Stats returns types.ErrNotFound when no reading falls inside the window.
func (s *Service) Stats(ctx context.Context, deviceID string, hours int) (StatsResult, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return StatsResult{}, err
	}
	if err := ValidateHours(hours); err != nil {
		return StatsResult{}, err
	}

	now := s.now().UTC()
	since := now.Add(-time.Duration(hours) * time.Hour)
	stats, err := s.repository.GetStats(ctx, deviceID, since)
	if err != nil {
		return StatsResult{}, err
	}
	return StatsResult{
		DeviceID:   deviceID,
		TimeRange:  TimeRange{Hours: hours, From: since, To: now},
		Statistics: stats,
	}, nil
}

func (s *Service) windowStart(hours int) time.Time {
	return s.now().UTC().Add(-time.Duration(hours) * time.Hour)
}

func ValidateHours(hours int) error {
	if hours <= 0 || hours > MaxHours {
		return &types.InvalidParameterError{
			Name:   "hours",
			Value:  strconv.Itoa(hours),
			Reason: "must be between 1 and 8760 (1 year)",
		}
	}
	return nil
}

func ValidateLimit(limit int) error {
	if limit <= 0 || limit > MaxLimit {
		return &types.InvalidParameterError{
			Name:   "limit",
			Value:  strconv.Itoa(limit),
			Reason: "must be between 1 and 10000",
		}
	}
	return nil
}

func validateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return &types.InvalidParameterError{Name: "device_id", Value: deviceID, Reason: "must not be empty"}
	}
	return nil
}

func validateMetric(metric string) error {
	if metric == "" {
		return &types.InvalidParameterError{Name: "sensor_type", Value: metric, Reason: "must not be empty"}
	}
	if len(metric) > maxMetricNameLen {
		return &types.InvalidParameterError{
			Name:   "sensor_type",
			Value:  metric[:maxMetricNameLen] + "...",
			Reason: "must be at most 128 bytes",
		}
	}
	return nil
}
