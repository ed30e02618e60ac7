package httpapi

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/ocuzn/sensors-server/internal/metrics"
	"github.com/ocuzn/sensors-server/internal/utils"
)

// NewMux registers the service-level routes. Feature modules add theirs
// to the returned mux.
func NewMux(db *sql.DB, broker BrokerStatus, m *metrics.Metrics, version string) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, broker)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /{$}", indexHandler(version))
	mux.HandleFunc("/", handleNotFound)
	return mux
}

type indexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Timestamp time.Time         `json:"timestamp"`
}

func indexHandler(version string) http.HandlerFunc {
	endpoints := map[string]string{
		"health":  "/health",
		"metrics": "/metrics",
		"sensors": "/api/sensors",
		"weather": "/api/weather",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, indexResponse{
			Message:   "MQTT Sensor Data Logger API",
			Version:   version,
			Endpoints: endpoints,
			Timestamp: time.Now().UTC(),
		})
	}
}

type notFoundResponse struct {
	utils.ErrorResponse
	Path   string `json:"path"`
	Method string `json:"method"`
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusNotFound, notFoundResponse{
		ErrorResponse: utils.ErrorResponse{
			Success:   false,
			Error:     http.StatusText(http.StatusNotFound),
			Message:   "Route not found",
			Timestamp: time.Now().UTC(),
		},
		Path:   r.URL.RequestURI(),
		Method: r.Method,
	})
}
