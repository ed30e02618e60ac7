package db

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ocuzn/sensors-server/internal/config"
)

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		prefix  string
		wantErr bool
	}{
		{
			name: "explicit dsn wins",
			cfg:  config.Config{SQLiteDSN: "file::memory:?cache=shared", SQLitePath: "ignored.db"},
			want: "file::memory:?cache=shared",
		},
		{
			name:   "plain path gets file prefix and params",
			cfg:    config.Config{SQLitePath: filepath.Join(dir, "nested", "app.db")},
			prefix: "file:" + filepath.Join(dir, "nested", "app.db") + "?_foreign_keys=on",
		},
		{
			name: "file uri with query appends params",
			cfg:  config.Config{SQLitePath: "file:test.db?mode=memory"},
			want: "file:test.db?mode=memory&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name:    "empty path",
			cfg:     config.Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildDSN() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
			if tt.prefix != "" && !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("buildDSN() = %q, want prefix %q", got, tt.prefix)
			}
		})
	}
}

func TestOpen_FileBacked(t *testing.T) {
	cfg := config.Config{
		SQLiteDriver:       "sqlite3",
		SQLitePath:         filepath.Join(t.TempDir(), "data", "sensor_data.db"),
		SQLiteMaxOpenConns: 1,
		SQLiteMaxIdleConns: 1,
	}
	conn, err := Open(cfg, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		if err := Close(conn); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if err := Ping(context.Background(), conn); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpen_WithStatementLogging(t *testing.T) {
	handler := &captureHandler{}
	cfg := config.Config{
		SQLiteDriver:        "sqlite3",
		SQLiteDSN:           ":memory:",
		SQLiteMaxOpenConns:  1,
		SQLiteLogStatements: true,
	}
	conn, err := Open(cfg, slog.New(handler))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(conn) }()

	if err := Ping(context.Background(), conn); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(handler.recordsFor(t, "sql")) == 0 {
		t.Fatal("expected ping query to be logged")
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v, want nil", err)
	}
}
