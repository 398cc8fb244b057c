package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/normalize"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS airqo;
CREATE TABLE IF NOT EXISTS airqo.measurements (
    device_name      TEXT NOT NULL,
    ts               TIMESTAMPTZ NOT NULL,
    network          TEXT NOT NULL DEFAULT '',
    site_name        TEXT,
    frequency        TEXT,
    pm2_5            DOUBLE PRECISION,
    pm2_5_calibrated DOUBLE PRECISION,
    pm10             DOUBLE PRECISION,
    pm10_calibrated  DOUBLE PRECISION,
    temperature      DOUBLE PRECISION,
    humidity         DOUBLE PRECISION,
    lat              DOUBLE PRECISION,
    lon              DOUBLE PRECISION,
    run_id           TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (device_name, ts, network)
);
CREATE INDEX IF NOT EXISTS measurements_ts_idx ON airqo.measurements (ts DESC);`

// A stored row is replaced only by one carrying more calibrated values, the
// same precedence the archive uses.
const upsertSQL = `INSERT INTO airqo.measurements (device_name, ts, network, site_name, frequency, pm2_5, pm2_5_calibrated, pm10, pm10_calibrated, temperature, humidity, lat, lon, run_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
ON CONFLICT (device_name, ts, network) DO UPDATE
SET site_name = EXCLUDED.site_name,
    frequency = EXCLUDED.frequency,
    pm2_5 = EXCLUDED.pm2_5,
    pm2_5_calibrated = EXCLUDED.pm2_5_calibrated,
    pm10 = EXCLUDED.pm10,
    pm10_calibrated = EXCLUDED.pm10_calibrated,
    temperature = EXCLUDED.temperature,
    humidity = EXCLUDED.humidity,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    run_id = EXCLUDED.run_id,
    updated_at = NOW()
WHERE (CASE WHEN EXCLUDED.pm2_5_calibrated IS NULL THEN 0 ELSE 1 END + CASE WHEN EXCLUDED.pm10_calibrated IS NULL THEN 0 ELSE 1 END)
    > (CASE WHEN measurements.pm2_5_calibrated IS NULL THEN 0 ELSE 1 END + CASE WHEN measurements.pm10_calibrated IS NULL THEN 0 ELSE 1 END)`

// Measurement is an archive row in its typed mirror form.
type Measurement struct {
	DeviceName     string
	TS             time.Time
	Network        string
	SiteName       string
	Frequency      string
	PM25           *float64
	PM25Calibrated *float64
	PM10           *float64
	PM10Calibrated *float64
	Temperature    *float64
	Humidity       *float64
	Lat            *float64
	Lon            *float64
}

// FromRow converts an archive row. Rows without a device or a parseable
// datetime are rejected.
func FromRow(r models.Row) (Measurement, bool) {
	device := strings.TrimSpace(r.Get(models.ColDeviceName))
	ts, ok := normalize.ParseTimestamp(r.Get(models.ColDatetime))
	if device == "" || !ok {
		return Measurement{}, false
	}
	return Measurement{
		DeviceName:     device,
		TS:             ts,
		Network:        strings.TrimSpace(r.Get(models.ColNetwork)),
		SiteName:       r.Get(models.ColSiteName),
		Frequency:      r.Get(models.ColFrequency),
		PM25:           floatPtr(r.Get(models.ColPM25)),
		PM25Calibrated: floatPtr(r.Get(models.ColPM25Calibrated)),
		PM10:           floatPtr(r.Get(models.ColPM10)),
		PM10Calibrated: floatPtr(r.Get(models.ColPM10Calibrated)),
		Temperature:    floatPtr(r.Get(models.ColTemperature)),
		Humidity:       floatPtr(r.Get(models.ColHumidity)),
		Lat:            floatPtr(r.Get(models.ColLatitude)),
		Lon:            floatPtr(r.Get(models.ColLongitude)),
	}, true
}

func floatPtr(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Mirror copies accepted archive rows into Postgres.
type Mirror struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, url string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return &Mirror{pool: pool}, nil
}

func (m *Mirror) Close() {
	m.pool.Close()
}

// EnsureSchema creates the mirror table when missing.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}

// UpsertRows writes rows in one batch and returns how many were sent; rows
// FromRow rejects are skipped.
func (m *Mirror) UpsertRows(ctx context.Context, runID string, rows []models.Row) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		rec, ok := FromRow(r)
		if !ok {
			continue
		}
		batch.Queue(upsertSQL,
			rec.DeviceName, rec.TS, rec.Network, nullable(rec.SiteName), nullable(rec.Frequency),
			rec.PM25, rec.PM25Calibrated, rec.PM10, rec.PM10Calibrated,
			rec.Temperature, rec.Humidity, rec.Lat, rec.Lon, runID)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	res := m.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return i, fmt.Errorf("db: upsert measurement: %w", err)
		}
	}
	return batch.Len(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
