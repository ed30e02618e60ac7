package weather

import (
	"net/http"

	"github.com/ocuzn/sensors-server/internal/config"
	"github.com/ocuzn/sensors-server/internal/modules/weather/client"
	"github.com/ocuzn/sensors-server/internal/modules/weather/controller"
)

func RegisterFeature(mux *http.ServeMux, cfg config.Config) {
	weatherClient := client.NewWeatherClient(cfg.WeatherBaseURL, cfg.WeatherTimeout)
	weatherController := controller.NewWeatherController(weatherClient, cfg.WeatherLatitude, cfg.WeatherLongitude)
	weatherController.RegisterRoutes(mux)
}
