package migrate

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_EmbeddedSchema(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	n, err := Run(ctx, db, slog.Default())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n == 0 {
		t.Fatal("Run applied 0 migrations on empty db")
	}

	var idx string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_sensor_readings_device_ts'`).Scan(&idx)
	if err != nil {
		t.Fatalf("device/timestamp index missing: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO sensor_readings (device_id, timestamp, sensor_data) VALUES ('d', '2025-01-01T00:00:00.000000000Z', 'not-json')`); err == nil {
		t.Fatal("expected json_valid check to reject invalid payload")
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if _, err := Run(ctx, db, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	n, err := Run(ctx, db, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("second Run applied %d migrations, want 0", n)
	}
}

func TestRun_OrderAndSkipsUnknownFiles(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"sql/0002_second.sql": {Data: []byte(`INSERT INTO log (step) VALUES ('second');`)},
		"sql/0001_first.sql":  {Data: []byte(`CREATE TABLE log (step TEXT); INSERT INTO log (step) VALUES ('first');`)},
		"sql/README.md":       {Data: []byte(`not a migration`)},
		"sql/abcd_bad.sql":    {Data: []byte(`SELECT broken`)},
	}

	n, err := run(context.Background(), db, fsys, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Fatalf("applied = %d, want 2", n)
	}

	rows, err := db.Query(`SELECT step FROM log ORDER BY rowid`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var got []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, s)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("steps = %v, want [first second]", got)
	}
}

func TestRun_FailedMigrationRollsBack(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"sql/0001_broken.sql": {Data: []byte(`CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;`)},
	}

	if _, err := run(context.Background(), db, fsys, nil); err == nil {
		t.Fatal("run error = nil, want non-nil")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("schema_migrations rows = %d, want 0", count)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in          string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{in: "0001_sensor_readings.sql", wantVersion: "0001", wantName: "sensor_readings", wantOK: true},
		{in: "001_short.sql"},
		{in: "0001_missing_ext"},
		{in: "0001_.sql"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if ok != tt.wantOK || v != tt.wantVersion || n != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.in, v, n, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
