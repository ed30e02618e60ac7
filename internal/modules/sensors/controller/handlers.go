package controller

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/service"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
	"github.com/ocuzn/sensors-server/internal/utils"
)

type devicesResponse struct {
	Success   bool                  `json:"success"`
	Count     int                   `json:"count"`
	Data      []types.DeviceSummary `json:"data"`
	Timestamp time.Time             `json:"timestamp"`
}

type latestResponse struct {
	Success   bool          `json:"success"`
	Data      types.Reading `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
}

type historyResponse struct {
	Success bool `json:"success"`
	service.HistoryResult
	Timestamp time.Time `json:"timestamp"`
}

type metricSeriesResponse struct {
	Success bool `json:"success"`
	service.MetricSeriesResult
	Timestamp time.Time `json:"timestamp"`
}

type statsResponse struct {
	Success bool `json:"success"`
	service.StatsResult
	Timestamp time.Time `json:"timestamp"`
}

func (c *sensorControllerImpl) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := c.service.ListDevices(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch devices")
		return
	}
	utils.WriteJSON(w, http.StatusOK, devicesResponse{
		Success:   true,
		Count:     len(devices),
		Data:      devices,
		Timestamp: now(),
	})
}

func (c *sensorControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	reading, err := c.service.Latest(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch latest reading")
		return
	}
	utils.WriteJSON(w, http.StatusOK, latestResponse{Success: true, Data: reading, Timestamp: now()})
}

func (c *sensorControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours, limit, err := parseWindowQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := c.service.Historical(r.Context(), r.PathValue("device_id"), hours, limit)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch historical data")
		return
	}
	utils.WriteJSON(w, http.StatusOK, historyResponse{Success: true, HistoryResult: result, Timestamp: now()})
}

func (c *sensorControllerImpl) handleMetricSeries(w http.ResponseWriter, r *http.Request) {
	hours, limit, err := parseWindowQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := c.service.MetricSeries(r.Context(), r.PathValue("device_id"), r.PathValue("sensor_type"), hours, limit)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch sensor data")
		return
	}
	utils.WriteJSON(w, http.StatusOK, metricSeriesResponse{Success: true, MetricSeriesResult: result, Timestamp: now()})
}

func (c *sensorControllerImpl) handleStats(w http.ResponseWriter, r *http.Request) {
	hours, err := parseIntQuery(r, "hours", service.DefaultHours)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := c.service.Stats(r.Context(), r.PathValue("device_id"), hours)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch statistics")
		return
	}
	utils.WriteJSON(w, http.StatusOK, statsResponse{Success: true, StatsResult: result, Timestamp: now()})
}

// writeServiceError maps query errors onto status codes. Storage details
// are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, types.ErrInvalidParameter):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, notFoundMessage(r))
	default:
		slog.Error(msg, "path", r.URL.Path, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, msg)
	}
}

func notFoundMessage(r *http.Request) string {
	deviceID := r.PathValue("device_id")
	if deviceID == "" {
		return "no data found"
	}
	return "no data found for device " + deviceID
}

func now() time.Time {
	return time.Now().UTC()
}
