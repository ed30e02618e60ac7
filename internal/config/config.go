package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	// SQLiteLogStatements wraps the driver so every statement is logged at debug level.
	SQLiteLogStatements bool

	MQTTBroker               string
	MQTTClientID             string
	MQTTTopic                string
	MQTTQoS                  byte
	MQTTUsername             string
	MQTTPassword             string
	MQTTKeepAlive            time.Duration
	MQTTConnectTimeout       time.Duration
	MQTTReconnectInterval    time.Duration
	MQTTMaxReconnectInterval time.Duration

	WeatherBaseURL   string
	WeatherLatitude  string
	WeatherLongitude string
	WeatherTimeout   time.Duration
}

// LoadDotEnv loads variables from ENV_FILE (default ".env") without
// overriding anything already set in the process environment.
// A missing file is not an error.
func LoadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		HTTPAddr:     envOr("HTTP_ADDR", ":3000"),
		SQLiteDriver: envOr("DB_DRIVER", "sqlite3"),
		SQLiteDSN:    strings.TrimSpace(os.Getenv("DB_DSN")),
		SQLitePath:   envOr("SQLITE_PATH", "data/sensor_data.db"),

		MQTTBroker:   envOr("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: envOr("MQTT_CLIENT_ID", defaultClientID()),
		MQTTTopic:    envOr("MQTT_TOPIC", "sensors/+/data"),
		MQTTUsername: strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),

		WeatherBaseURL:   envOr("WEATHER_BASE_URL", "https://api.open-meteo.com/v1/forecast"),
		WeatherLatitude:  strings.TrimSpace(os.Getenv("WEATHER_LATITUDE")),
		WeatherLongitude: strings.TrimSpace(os.Getenv("WEATHER_LONGITUDE")),
	}

	if cfg.SQLiteMaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteMaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", 0); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteLogStatements, err = envBool("DB_LOG_SQL", false); err != nil {
		return Config{}, err
	}

	qos, err := envInt("MQTT_QOS", 0)
	if err != nil {
		return Config{}, err
	}
	if qos < 0 || qos > 2 {
		return Config{}, fmt.Errorf("invalid MQTT_QOS %d (allowed: 0, 1, 2)", qos)
	}
	cfg.MQTTQoS = byte(qos)

	if cfg.MQTTKeepAlive, err = envDuration("MQTT_KEEPALIVE", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MQTTConnectTimeout, err = envDuration("MQTT_CONNECT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MQTTReconnectInterval, err = envDuration("MQTT_RECONNECT_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MQTTMaxReconnectInterval, err = envDuration("MQTT_MAX_RECONNECT_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MQTTReconnectInterval <= 0 {
		return Config{}, fmt.Errorf("MQTT_RECONNECT_INTERVAL must be > 0")
	}
	if cfg.MQTTMaxReconnectInterval < cfg.MQTTReconnectInterval {
		return Config{}, fmt.Errorf("MQTT_MAX_RECONNECT_INTERVAL (%s) must be >= MQTT_RECONNECT_INTERVAL (%s)",
			cfg.MQTTMaxReconnectInterval, cfg.MQTTReconnectInterval)
	}

	if cfg.WeatherTimeout, err = envDuration("WEATHER_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultClientID() string {
	return "sensor-logger-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
