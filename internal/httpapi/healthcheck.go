package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocuzn/sensors-server/internal/db"
	"github.com/ocuzn/sensors-server/internal/mqtt"
	"github.com/ocuzn/sensors-server/internal/utils"
)

// BrokerStatus reports the ingestion connection for /health.
type BrokerStatus interface {
	Status() mqtt.Status
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
	handleHealth(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db      *sql.DB
	broker  BrokerStatus
	started time.Time
}

func NewHealthchecker(dbConn *sql.DB, broker BrokerStatus) healthchecker {
	return &healthcheckerImpl{db: dbConn, broker: broker, started: time.Now()}
}

type serverStatus struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type databaseStatus struct {
	Connected bool `json:"connected"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Server    serverStatus   `json:"server"`
	MQTT      mqtt.Status    `json:"mqtt"`
	Database  databaseStatus `json:"database"`
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), h.db); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth reports "degraded" while the broker is unreachable; ingestion
// resumes on its own so the process stays in service. A dead database is a
// hard failure.
func (h *healthcheckerImpl) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Server:    serverStatus{UptimeSeconds: time.Since(h.started).Seconds()},
		Database:  databaseStatus{Connected: true},
	}
	if h.broker != nil {
		resp.MQTT = h.broker.Status()
	}

	status := http.StatusOK
	if err := db.Ping(r.Context(), h.db); err != nil {
		slog.Error("health: database ping failed", "error", err)
		resp.Database.Connected = false
		resp.Status = "error"
		status = http.StatusServiceUnavailable
	} else if !resp.MQTT.Connected {
		resp.Status = "degraded"
	}
	utils.WriteJSON(w, status, resp)
}

func registerHealthcheck(mux *http.ServeMux, dbConn *sql.DB, broker BrokerStatus) {
	healthchecker := NewHealthchecker(dbConn, broker)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
	mux.HandleFunc("GET /health", healthchecker.handleHealth)
}
