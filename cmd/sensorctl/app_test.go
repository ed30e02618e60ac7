package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/repository"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"

	_ "github.com/mattn/go-sqlite3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{appName}, args...))
	return out.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	t.Setenv("DB_DSN", "")
	t.Setenv("DB_LOG_SQL", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "sensors.db")

	out, err := run(t, "--db-path", path, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "applied 1 migration(s)\n", out)
	return path
}

func seed(t *testing.T, path string, at time.Time, deviceID string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewRepositoryWithClock(db, func() time.Time { return at })
	_, err = repo.InsertReading(context.Background(), deviceID, types.Payload{"dht_temperature": 21.0})
	require.NoError(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := setup(t)
	out, err := run(t, "--db-path", path, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "applied 0 migration(s)\n", out)
}

func TestDevices(t *testing.T) {
	path := setup(t)
	now := time.Now().UTC()
	seed(t, path, now.Add(-time.Hour), "dev1")
	seed(t, path, now, "dev1")
	seed(t, path, now, "dev2")

	out, err := run(t, "--db-path", path, "--output", "json-raw", "devices")
	require.NoError(t, err)

	var devices []types.DeviceSummary
	require.NoError(t, json.Unmarshal([]byte(out), &devices))
	require.Len(t, devices, 2)
	counts := map[string]int64{}
	for _, d := range devices {
		counts[d.DeviceID] = d.ReadingCount
	}
	assert.Equal(t, map[string]int64{"dev1": 2, "dev2": 1}, counts)

	out, err = run(t, "--db-path", path, "devices")
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(out), "DEVICE ID")
	assert.Contains(t, out, "dev2")
}

func TestPurge(t *testing.T) {
	path := setup(t)
	now := time.Now().UTC()
	seed(t, path, now.Add(-48*time.Hour), "dev1")
	seed(t, path, now.Add(-48*time.Hour), "dev2")
	seed(t, path, now, "dev1")

	out, err := run(t, "--db-path", path, "purge", "--device-id", "dev1", "--older-than", "24h")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "deleted 1 reading(s)"), out)

	out, err = run(t, "--db-path", path, "purge", "--older-than", "24h")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "deleted 1 reading(s)"), out)

	_, err = run(t, "--db-path", path, "purge", "--older-than", "-1h")
	assert.Error(t, err)
}

func TestPublishRejectsBadInput(t *testing.T) {
	_, err := run(t, "publish", "--device-id", "dev1", "not-json")
	assert.ErrorIs(t, err, types.ErrParse)

	_, err = run(t, "publish", "--device-id", "sensors/+", `{"a":1}`)
	assert.ErrorContains(t, err, "invalid --device-id")
}

func TestShowDevices_UnknownFormat(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, showDevices(&out, "yaml", nil))
}
