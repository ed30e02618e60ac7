package controller

import (
	"context"
	"net/http"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/service"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

// SensorService is the query surface the handlers depend on.
type SensorService interface {
	ListDevices(ctx context.Context) ([]types.DeviceSummary, error)
	Latest(ctx context.Context, deviceID string) (types.Reading, error)
	Historical(ctx context.Context, deviceID string, hours, limit int) (service.HistoryResult, error)
	MetricSeries(ctx context.Context, deviceID, metric string, hours, limit int) (service.MetricSeriesResult, error)
	Stats(ctx context.Context, deviceID string, hours int) (service.StatsResult, error)
}

type SensorController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type sensorControllerImpl struct {
	service SensorService
}

func NewSensorController(service SensorService) SensorController {
	return &sensorControllerImpl{service: service}
}

func (c *sensorControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sensors", c.handleDevices)
	mux.HandleFunc("GET /api/sensors/{device_id}/latest", c.handleLatest)
	mux.HandleFunc("GET /api/sensors/{device_id}/history", c.handleHistory)
	mux.HandleFunc("GET /api/sensors/{device_id}/sensor/{sensor_type}", c.handleMetricSeries)
	mux.HandleFunc("GET /api/sensors/{device_id}/stats", c.handleStats)
}
