package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Device summarises one device seen in the mirror.
type Device struct {
	Name      string    `json:"device_name"`
	Network   string    `json:"network"`
	SiteName  *string   `json:"site_name,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
}

const devicesSQL = `
    SELECT d.device_name, d.network, l.site_name, l.lat, l.lon, d.first_seen, d.last_seen, d.count
    FROM (
        SELECT device_name, network, MIN(ts) AS first_seen, MAX(ts) AS last_seen, COUNT(*) AS count
        FROM airqo.measurements
        GROUP BY device_name, network
    ) d
    JOIN LATERAL (
        SELECT site_name, lat, lon
        FROM airqo.measurements m
        WHERE m.device_name = d.device_name AND m.network = d.network
        ORDER BY ts DESC
        LIMIT 1
    ) l ON TRUE
`

func scanDevices(rows pgx.Rows) ([]Device, error) {
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		var d Device
		if err := rows.Scan(
			&d.Name,
			&d.Network,
			&d.SiteName,
			&d.Lat,
			&d.Lon,
			&d.FirstSeen,
			&d.LastSeen,
			&d.Count,
		); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// ListDevices returns every device with its latest known location.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.pool.Query(ctx, devicesSQL+" ORDER BY d.device_name, d.network")
	if err != nil {
		return nil, err
	}
	return scanDevices(rows)
}

// GetDevice returns the device named name, or nil when it is unknown.
func (s *Store) GetDevice(ctx context.Context, name string) (*Device, error) {
	rows, err := s.pool.Query(ctx, devicesSQL+" WHERE d.device_name = $1 ORDER BY d.last_seen DESC LIMIT 1", name)
	if err != nil {
		return nil, err
	}
	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// Measurement is one mirrored archive row.
type Measurement struct {
	DeviceName     string    `json:"device_name"`
	Timestamp      time.Time `json:"ts"`
	Network        string    `json:"network"`
	SiteName       *string   `json:"site_name,omitempty"`
	PM25           *float64  `json:"pm2_5,omitempty"`
	PM25Calibrated *float64  `json:"pm2_5_calibrated_value,omitempty"`
	PM10           *float64  `json:"pm10,omitempty"`
	PM10Calibrated *float64  `json:"pm10_calibrated_value,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	Lat            *float64  `json:"lat,omitempty"`
	Lon            *float64  `json:"lon,omitempty"`
}

// MeasurementQuery holds filters for retrieving measurements.
type MeasurementQuery struct {
	DeviceName string
	Limit      int
	Since      *time.Time
	Until      *time.Time
}

const measurementColumns = `device_name, ts, network, site_name, pm2_5, pm2_5_calibrated, pm10, pm10_calibrated, temperature, humidity, lat, lon`

// measurementsSQL builds the query for q. With a limit the newest rows are
// selected and returned oldest first.
func measurementsSQL(q MeasurementQuery) (string, []any) {
	args := []any{q.DeviceName}
	conditions := []string{"device_name = $1"}
	if q.Since != nil {
		args = append(args, *q.Since)
		conditions = append(conditions, "ts >= $"+strconv.Itoa(len(args)))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		conditions = append(conditions, "ts <= $"+strconv.Itoa(len(args)))
	}

	sql := "SELECT " + measurementColumns + " FROM airqo.measurements WHERE " + strings.Join(conditions, " AND ")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql = "SELECT * FROM (" + sql + " ORDER BY ts DESC LIMIT $" + strconv.Itoa(len(args)) + ") recent"
	}
	return sql + " ORDER BY ts", args
}

func scanMeasurements(rows pgx.Rows) ([]Measurement, error) {
	defer rows.Close()

	measurements := make([]Measurement, 0)
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(
			&m.DeviceName,
			&m.Timestamp,
			&m.Network,
			&m.SiteName,
			&m.PM25,
			&m.PM25Calibrated,
			&m.PM10,
			&m.PM10Calibrated,
			&m.Temperature,
			&m.Humidity,
			&m.Lat,
			&m.Lon,
		); err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

// FetchMeasurements returns measurements for a device based on the query.
func (s *Store) FetchMeasurements(ctx context.Context, q MeasurementQuery) ([]Measurement, error) {
	sql, args := measurementsSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanMeasurements(rows)
}

const latestSQL = `
    SELECT DISTINCT ON (device_name, network) ` + measurementColumns + `
    FROM airqo.measurements
    ORDER BY device_name, network, ts DESC
`

// LatestPerDevice returns the newest measurement of every device.
func (s *Store) LatestPerDevice(ctx context.Context) ([]Measurement, error) {
	rows, err := s.pool.Query(ctx, latestSQL)
	if err != nil {
		return nil, err
	}
	return scanMeasurements(rows)
}
