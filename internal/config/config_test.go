package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR",
	"DB_DRIVER", "DB_DSN", "SQLITE_PATH", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_LOG_SQL",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC", "MQTT_QOS", "MQTT_USERNAME", "MQTT_PASSWORD",
	"MQTT_KEEPALIVE", "MQTT_CONNECT_TIMEOUT", "MQTT_RECONNECT_INTERVAL", "MQTT_MAX_RECONNECT_INTERVAL",
	"WEATHER_BASE_URL", "WEATHER_LATITUDE", "WEATHER_LONGITUDE", "WEATHER_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want %q", got.HTTPAddr, ":3000")
	}
	if got.SQLiteDriver != "sqlite3" {
		t.Errorf("SQLiteDriver = %q, want sqlite3", got.SQLiteDriver)
	}
	if got.SQLiteMaxOpenConns != 1 || got.SQLiteMaxIdleConns != 1 {
		t.Errorf("pool = %d/%d, want 1/1", got.SQLiteMaxOpenConns, got.SQLiteMaxIdleConns)
	}
	if got.MQTTBroker != "tcp://localhost:1883" {
		t.Errorf("MQTTBroker = %q", got.MQTTBroker)
	}
	if got.MQTTTopic != "sensors/+/data" {
		t.Errorf("MQTTTopic = %q, want sensors/+/data", got.MQTTTopic)
	}
	if got.MQTTQoS != 0 {
		t.Errorf("MQTTQoS = %d, want 0", got.MQTTQoS)
	}
	if got.MQTTReconnectInterval != time.Second {
		t.Errorf("MQTTReconnectInterval = %s, want 1s", got.MQTTReconnectInterval)
	}
	if got.MQTTMaxReconnectInterval != 30*time.Second {
		t.Errorf("MQTTMaxReconnectInterval = %s, want 30s", got.MQTTMaxReconnectInterval)
	}
	if !strings.HasPrefix(got.MQTTClientID, "sensor-logger-") || len(got.MQTTClientID) != len("sensor-logger-")+8 {
		t.Errorf("MQTTClientID = %q, want sensor-logger-<8 hex>", got.MQTTClientID)
	}
	if got.WeatherTimeout != 10*time.Second {
		t.Errorf("WeatherTimeout = %s, want 10s", got.WeatherTimeout)
	}
}

func TestLoadFromEnv_AppEnv_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
	}{
		{name: "staging", appEnv: "staging"},
		{name: "uppercase invalid", appEnv: "DEV"},
		{name: "random", appEnv: "whatever"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", tt.appEnv)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("HTTP_ADDR", "  127.0.0.1:8081  ")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_CLIENT_ID", "fixed-id")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("MQTT_RECONNECT_INTERVAL", "2s")
	t.Setenv("MQTT_MAX_RECONNECT_INTERVAL", "10s")
	t.Setenv("DB_LOG_SQL", "true")
	t.Setenv("WEATHER_LATITUDE", "52.23")
	t.Setenv("WEATHER_LONGITUDE", "21.01")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.AppEnv != "prod" {
		t.Errorf("AppEnv = %q, want prod", got.AppEnv)
	}
	if got.HTTPAddr != "127.0.0.1:8081" {
		t.Errorf("HTTPAddr = %q, want 127.0.0.1:8081", got.HTTPAddr)
	}
	if got.MQTTBroker != "tcp://broker:1883" || got.MQTTClientID != "fixed-id" || got.MQTTQoS != 1 {
		t.Errorf("mqtt = %q/%q/%d", got.MQTTBroker, got.MQTTClientID, got.MQTTQoS)
	}
	if got.MQTTReconnectInterval != 2*time.Second || got.MQTTMaxReconnectInterval != 10*time.Second {
		t.Errorf("reconnect = %s/%s, want 2s/10s", got.MQTTReconnectInterval, got.MQTTMaxReconnectInterval)
	}
	if !got.SQLiteLogStatements {
		t.Error("SQLiteLogStatements = false, want true")
	}
	if got.WeatherLatitude != "52.23" || got.WeatherLongitude != "21.01" {
		t.Errorf("weather coords = %q,%q", got.WeatherLatitude, got.WeatherLongitude)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "max open conns not int", key: "DB_MAX_OPEN_CONNS", val: "many"},
		{name: "lifetime not duration", key: "DB_CONN_MAX_LIFETIME", val: "forever"},
		{name: "log sql not bool", key: "DB_LOG_SQL", val: "sometimes"},
		{name: "qos out of range", key: "MQTT_QOS", val: "3"},
		{name: "qos negative", key: "MQTT_QOS", val: "-1"},
		{name: "keepalive not duration", key: "MQTT_KEEPALIVE", val: "60"},
		{name: "reconnect zero", key: "MQTT_RECONNECT_INTERVAL", val: "0s"},
		{name: "max reconnect below reconnect", key: "MQTT_MAX_RECONNECT_INTERVAL", val: "500ms"},
		{name: "weather timeout bad", key: "WEATHER_TIMEOUT", val: "soon"},
		{name: "log level bad", key: "LOG_LEVEL", val: "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q error = nil, want non-nil", tt.key, tt.val)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "  ERROR \n", want: slog.LevelError},
		{in: "nope", want: slog.LevelInfo, wantErr: true},
		{in: "", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
		if err := LoadDotEnv(); err != nil {
			t.Fatalf("LoadDotEnv() error = %v, want nil", err)
		}
	})

	t.Run("loads values without overriding existing env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		content := "SENSORS_TEST_FROM_FILE=file\nSENSORS_TEST_PRESET=file\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write env file: %v", err)
		}
		t.Setenv("ENV_FILE", path)
		t.Setenv("SENSORS_TEST_PRESET", "process")
		t.Setenv("SENSORS_TEST_FROM_FILE", "")
		if err := os.Unsetenv("SENSORS_TEST_FROM_FILE"); err != nil {
			t.Fatalf("unsetenv: %v", err)
		}

		if err := LoadDotEnv(); err != nil {
			t.Fatalf("LoadDotEnv() error = %v, want nil", err)
		}
		if got := os.Getenv("SENSORS_TEST_FROM_FILE"); got != "file" {
			t.Errorf("SENSORS_TEST_FROM_FILE = %q, want file", got)
		}
		if got := os.Getenv("SENSORS_TEST_PRESET"); got != "process" {
			t.Errorf("SENSORS_TEST_PRESET = %q, want process", got)
		}
	})
}
