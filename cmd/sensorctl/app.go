package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ocuzn/sensors-server/internal/config"
	"github.com/ocuzn/sensors-server/internal/db"
	"github.com/ocuzn/sensors-server/internal/logging"
	"github.com/ocuzn/sensors-server/internal/migrate"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/ingest"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/repository"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/service"
	"github.com/ocuzn/sensors-server/internal/mqtt"
)

const (
	appName        = "sensorctl"
	publishTimeout = 10 * time.Second
)

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  appName,
		Usage: "Maintenance commands for the sensor data store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db-path",
				Usage: "SQLite database file (overrides SQLITE_PATH)",
			},
			&cli.StringFlag{
				Name:  "broker",
				Usage: "MQTT broker URL (overrides MQTT_BROKER)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format: column, no-header, json, json-raw",
				Value:   encodeColumn,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print the sensorctl version",
				Action: func(ctx context.Context, command *cli.Command) error {
					_, err := fmt.Fprintf(out, "version: %s\n", Version)
					return err
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply pending schema migrations",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withDB(ctx, command, func(dbConn *sql.DB, logger *slog.Logger) error {
						n, err := migrate.Run(ctx, dbConn, logger)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(out, "applied %d migration(s)\n", n)
						return err
					})
				},
			},
			{
				Name:  "devices",
				Usage: "List devices with reading counts",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withDB(ctx, command, func(dbConn *sql.DB, _ *slog.Logger) error {
						devices, err := service.NewService(repository.NewRepository(dbConn)).ListDevices(ctx)
						if err != nil {
							return err
						}
						return showDevices(out, command.String("output"), devices)
					})
				},
			},
			{
				Name:  "purge",
				Usage: "Delete readings older than a cutoff",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "device-id",
						Usage: "limit the purge to one device (default: all devices)",
					},
					&cli.DurationFlag{
						Name:     "older-than",
						Usage:    "delete readings older than this age, e.g. 720h",
						Required: true,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					age := command.Duration("older-than")
					if age <= 0 {
						return errors.New("--older-than must be positive")
					}
					deviceID := command.String("device-id")
					return withDB(ctx, command, func(dbConn *sql.DB, _ *slog.Logger) error {
						cutoff := time.Now().UTC().Add(-age)
						n, err := repository.NewRepository(dbConn).DeleteReadings(ctx, deviceID, cutoff)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(out, "deleted %d reading(s) before %s\n", n, cutoff.Format(time.RFC3339))
						return err
					})
				},
			},
			{
				Name:      "publish",
				Usage:     "Publish a reading as a device would",
				ArgsUsage: "JSON_PAYLOAD",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "device-id",
						Required: true,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					deviceID := strings.TrimSpace(command.String("device-id"))
					if deviceID == "" || strings.ContainsAny(deviceID, "/+#") {
						return fmt.Errorf("invalid --device-id %q", deviceID)
					}
					payload, err := ingest.DecodePayload([]byte(command.Args().First()))
					if err != nil {
						return err
					}

					cfg, logger, err := loadConfig(command)
					if err != nil {
						return err
					}
					pub := mqtt.NewPublisher(cfg, logger)
					connectCtx, cancel := context.WithTimeout(ctx, publishTimeout)
					defer cancel()
					if err := pub.Connect(connectCtx); err != nil {
						return err
					}
					defer pub.Disconnect()

					if err := pub.Publish(deviceID, payload); err != nil {
						return err
					}
					_, err = fmt.Fprintf(out, "published to %s\n", ingest.Topic(deviceID))
					return err
				},
			},
		},
	}
}

// loadConfig reads the server environment and applies global flag overrides.
func loadConfig(command *cli.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	if p := command.String("db-path"); p != "" {
		cfg.SQLitePath = p
		cfg.SQLiteDSN = ""
	}
	if b := command.String("broker"); b != "" {
		cfg.MQTTBroker = b
	}
	cfg.MQTTClientID = appName + "-" + strings.TrimPrefix(cfg.MQTTClientID, "sensor-logger-")
	return cfg, logging.New(cfg, Version, appName), nil
}

func withDB(ctx context.Context, command *cli.Command, fn func(dbConn *sql.DB, logger *slog.Logger) error) error {
	cfg, logger, err := loadConfig(command)
	if err != nil {
		return err
	}
	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(dbConn); err != nil {
			logger.Error("db close", "error", err)
		}
	}()
	if err := db.Ping(ctx, dbConn); err != nil {
		return err
	}
	return fn(dbConn, logger)
}
