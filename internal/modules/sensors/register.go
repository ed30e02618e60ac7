package sensors

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/ocuzn/sensors-server/internal/metrics"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/controller"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/ingest"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/repository"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/service"
	"github.com/ocuzn/sensors-server/internal/mqtt"
)

// MessageSubscriber accepts the ingestion handler.
type MessageSubscriber interface {
	SetMessageHandler(handler mqtt.MessageHandler)
}

// RegisterFeature wires the sensors module: the ingestion handler becomes
// the subscriber's message handler and the query routes join mux.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, subscriber MessageSubscriber, logger *slog.Logger, m *metrics.Metrics) {
	sensorRepository := repository.NewRepository(db)

	ingestHandler := ingest.NewHandler(sensorRepository, logger.With("module", "sensors"), m)
	subscriber.SetMessageHandler(ingestHandler.Handle)

	sensorService := service.NewService(sensorRepository)
	sensorController := controller.NewSensorController(sensorService)
	sensorController.RegisterRoutes(mux)
}
