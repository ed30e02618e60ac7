package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-reading.sql
var getLatestReadingSQL string

//go:embed sql/get-devices.sql
var getDevicesSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-metric-readings.sql
var getMetricReadingsSQL string

//go:embed sql/get-stats.sql
var getStatsSQL string

//go:embed sql/delete-readings.sql
var deleteReadingsSQL string

// SensorRepository is the durable store of readings. Every failure of the
// database is returned wrapped with types.ErrStorage; nothing is retried here.
type SensorRepository interface {
	InsertReading(ctx context.Context, deviceID string, payload types.Payload) (types.Reading, error)
	GetLatestReading(ctx context.Context, deviceID string) (types.Reading, error)
	GetDevices(ctx context.Context) ([]types.DeviceSummary, error)
	GetReadings(ctx context.Context, deviceID string, since time.Time, limit int) ([]types.Reading, error)
	GetMetricSeries(ctx context.Context, deviceID, metric string, since time.Time, limit int) ([]types.MetricPoint, error)
	GetStats(ctx context.Context, deviceID string, since time.Time) (types.Stats, error)
	DeleteReadings(ctx context.Context, deviceID string, before time.Time) (int64, error)
}

type repositoryImpl struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) SensorRepository {
	return NewRepositoryWithClock(db, time.Now)
}

// NewRepositoryWithClock is NewRepository with an injectable receipt clock.
func NewRepositoryWithClock(db *sql.DB, now func() time.Time) SensorRepository {
	return &repositoryImpl{db: db, now: now}
}

func (r *repositoryImpl) InsertReading(ctx context.Context, deviceID string, payload types.Payload) (types.Reading, error) {
	if payload == nil {
		payload = types.Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return types.Reading{}, types.StorageError("encode sensor data", err)
	}

	ts := r.now().UTC()
	var (
		id        int64
		createdAt string
	)
	err = r.db.QueryRowContext(ctx, insertReadingSQL, deviceID, types.FormatTimestamp(ts), string(data)).Scan(&id, &createdAt)
	if err != nil {
		return types.Reading{}, types.StorageError("insert reading", err)
	}

	created, err := types.ParseTimestamp(createdAt)
	if err != nil {
		return types.Reading{}, types.StorageError("insert reading", err)
	}

	return types.Reading{
		ID:         id,
		DeviceID:   deviceID,
		Timestamp:  ts,
		SensorData: payload,
		CreatedAt:  created,
	}, nil
}

func (r *repositoryImpl) GetLatestReading(ctx context.Context, deviceID string) (types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getLatestReadingSQL, deviceID)
	if err != nil {
		return types.Reading{}, types.StorageError("get latest reading", err)
	}
	defer closeRows(rows, "latest reading")

	readings, err := scanReadings(rows)
	if err != nil {
		return types.Reading{}, types.StorageError("get latest reading", err)
	}
	if len(readings) == 0 {
		return types.Reading{}, fmt.Errorf("device %q: %w", deviceID, types.ErrNotFound)
	}
	return readings[0], nil
}

func (r *repositoryImpl) GetDevices(ctx context.Context) ([]types.DeviceSummary, error) {
	rows, err := r.db.QueryContext(ctx, getDevicesSQL)
	if err != nil {
		return nil, types.StorageError("get devices", err)
	}
	defer closeRows(rows, "devices")

	out := []types.DeviceSummary{}
	for rows.Next() {
		var (
			d           types.DeviceSummary
			last, first string
		)
		if err := rows.Scan(&d.DeviceID, &d.ReadingCount, &last, &first); err != nil {
			return nil, types.StorageError("scan device", err)
		}
		if d.LastReading, err = types.ParseTimestamp(last); err != nil {
			return nil, types.StorageError("scan device", err)
		}
		if d.FirstReading, err = types.ParseTimestamp(first); err != nil {
			return nil, types.StorageError("scan device", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageError("get devices", err)
	}
	return out, nil
}

func (r *repositoryImpl) GetReadings(ctx context.Context, deviceID string, since time.Time, limit int) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, deviceID, types.FormatTimestamp(since), limit)
	if err != nil {
		return nil, types.StorageError("get readings", err)
	}
	defer closeRows(rows, "readings")

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, types.StorageError("get readings", err)
	}
	return readings, nil
}

// GetMetricSeries narrows rows in SQL to those whose payload has the key,
// then extracts the value in Go; the extraction decides what is returned.
func (r *repositoryImpl) GetMetricSeries(ctx context.Context, deviceID, metric string, since time.Time, limit int) ([]types.MetricPoint, error) {
	rows, err := r.db.QueryContext(ctx, getMetricReadingsSQL, deviceID, types.FormatTimestamp(since), metric, limit)
	if err != nil {
		return nil, types.StorageError("get metric series", err)
	}
	defer closeRows(rows, "metric series")

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, types.StorageError("get metric series", err)
	}
	return types.ExtractSeries(readings, metric, limit), nil
}

func (r *repositoryImpl) GetStats(ctx context.Context, deviceID string, since time.Time) (types.Stats, error) {
	var (
		count       int64
		first, last sql.NullString
	)
	err := r.db.QueryRowContext(ctx, getStatsSQL, deviceID, types.FormatTimestamp(since)).Scan(&count, &first, &last)
	if err != nil {
		return types.Stats{}, types.StorageError("get stats", err)
	}
	if count == 0 || !first.Valid || !last.Valid {
		return types.Stats{}, fmt.Errorf("device %q since %s: %w", deviceID, since.UTC().Format(time.RFC3339), types.ErrNotFound)
	}

	stats := types.Stats{DeviceID: deviceID, TotalReadings: count}
	if stats.FirstReading, err = types.ParseTimestamp(first.String); err != nil {
		return types.Stats{}, types.StorageError("get stats", err)
	}
	if stats.LastReading, err = types.ParseTimestamp(last.String); err != nil {
		return types.Stats{}, types.StorageError("get stats", err)
	}
	return stats, nil
}

// DeleteReadings removes readings older than before; an empty deviceID
// matches every device. Only maintenance tooling and tests call it.
func (r *repositoryImpl) DeleteReadings(ctx context.Context, deviceID string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteReadingsSQL, deviceID, deviceID, types.FormatTimestamp(before))
	if err != nil {
		return 0, types.StorageError("delete readings", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.StorageError("delete readings", err)
	}
	return n, nil
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	out := []types.Reading{}
	for rows.Next() {
		var (
			rec              types.Reading
			ts, data, create string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &ts, &data, &create); err != nil {
			return nil, err
		}
		t, err := types.ParseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		rec.Timestamp = t
		if rec.CreatedAt, err = types.ParseTimestamp(create); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rec.SensorData); err != nil {
			return nil, fmt.Errorf("decode sensor data of reading %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("close "+what+" rows", "error", err)
	}
}
