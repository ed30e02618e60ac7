package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocuzn/sensors-server/internal/config"
	"github.com/ocuzn/sensors-server/internal/db"
	"github.com/ocuzn/sensors-server/internal/httpapi"
	"github.com/ocuzn/sensors-server/internal/metrics"
	"github.com/ocuzn/sensors-server/internal/migrate"
	"github.com/ocuzn/sensors-server/internal/modules/sensors"
	"github.com/ocuzn/sensors-server/internal/modules/weather"
	"github.com/ocuzn/sensors-server/internal/mqtt"
)

const (
	initialConnectTimeout = 5 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// Run starts ingestion and the HTTP API and blocks until ctx is cancelled
// or the HTTP server fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, version string) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"mqttBroker", cfg.MQTTBroker,
		"mqttTopic", cfg.MQTTTopic,
		"mqttQoS", cfg.MQTTQoS,
		"mqttClientID", cfg.MQTTClientID,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	applied, err := migrate.Run(ctx, dbConn, logger)
	if err != nil {
		return err
	}
	logger.Info("database ready", "migrationsApplied", applied)

	m := metrics.New()

	// The message handler is set before Connect so the first delivery after
	// SUBACK already has somewhere to go.
	subscriber := mqtt.NewSubscriber(cfg, logger, m)
	mux := httpapi.NewMux(dbConn, subscriber, m, version)
	sensors.RegisterFeature(mux, dbConn, subscriber, logger, m)
	weather.RegisterFeature(mux, cfg)

	// A short initial connect keeps startup from blocking on a missing
	// broker; the client keeps retrying in the background.
	connectCtx, connectCancel := context.WithTimeout(ctx, initialConnectTimeout)
	err = subscriber.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt not connected yet (retrying in background)", "error", err)
	}

	srv := httpapi.NewServer(cfg, mux, m)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		subscriber.Disconnect()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("mqtt disconnecting")
	subscriber.Disconnect()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
