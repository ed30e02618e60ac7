package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ocuzn/sensors-server/internal/modules/weather/client"
	"github.com/ocuzn/sensors-server/internal/utils"
)

type WeatherController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type weatherControllerImpl struct {
	client     client.WeatherClient
	defaultLat string
	defaultLon string
}

// NewWeatherController uses defaultLat and defaultLon when a request omits them.
func NewWeatherController(client client.WeatherClient, defaultLat, defaultLon string) WeatherController {
	return &weatherControllerImpl{client: client, defaultLat: defaultLat, defaultLon: defaultLon}
}

func (c *weatherControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/weather", c.handleWeather)
}

type weatherResponse struct {
	Success bool            `json:"success"`
	Weather json.RawMessage `json:"weather"`
}

func (c *weatherControllerImpl) handleWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat := firstNonEmpty(q.Get("lat"), c.defaultLat)
	lon := firstNonEmpty(q.Get("lon"), c.defaultLon)
	if lat == "" || lon == "" {
		utils.WriteError(w, http.StatusBadRequest, "lat and lon required")
		return
	}

	doc, err := c.client.Forecast(r.Context(), lat, lon)
	if err != nil {
		if errors.Is(err, client.ErrInvalidCoordinates) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("weather: forecast failed", "lat", lat, "lon", lon, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to fetch weather")
		return
	}
	utils.WriteJSON(w, http.StatusOK, weatherResponse{Success: true, Weather: doc})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
