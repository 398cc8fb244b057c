package db

import (
	"context"
	"strconv"
	"strings"
	"time"
)

type DailyAggregate struct {
	Day            time.Time `json:"day"`
	DeviceName     string    `json:"device_name"`
	Samples        int       `json:"samples"`
	Calibrated     int       `json:"calibrated"`
	AvgPM25        *float64  `json:"avg_pm2_5,omitempty"`
	MaxPM25        *float64  `json:"max_pm2_5,omitempty"`
	AvgPM10        *float64  `json:"avg_pm10,omitempty"`
	AvgTemperature *float64  `json:"avg_temperature,omitempty"`
}

type DailyAggregatesPage struct {
	Days       []DailyAggregate `json:"days"`
	TotalCount int              `json:"total_count"`
}

// dailyWhere builds the shared filter of the daily aggregate queries.
func dailyWhere(device string, startTime, endTime *time.Time) (string, []any) {
	conditions := []string{"device_name = $1"}
	args := []any{device}

	if startTime != nil {
		conditions = append(conditions, "ts >= $"+strconv.Itoa(len(args)+1))
		args = append(args, *startTime)
	}
	if endTime != nil {
		conditions = append(conditions, "ts <= $"+strconv.Itoa(len(args)+1))
		args = append(args, *endTime)
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// ListDailyAggregates returns per-day PM statistics for a device, newest day
// first. Calibrated values are preferred over raw ones.
func (s *Store) ListDailyAggregates(ctx context.Context, device string, limit, offset int, startTime, endTime *time.Time) (*DailyAggregatesPage, error) {
	whereClause, args := dailyWhere(device, startTime, endTime)

	countSQL := "SELECT COUNT(DISTINCT date_trunc('day', ts AT TIME ZONE 'UTC')) FROM airqo.measurements " + whereClause
	var totalCount int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&totalCount); err != nil {
		return nil, err
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	args = append(args, limit, offset)

	query := strings.Builder{}
	query.WriteString("SELECT date_trunc('day', ts AT TIME ZONE 'UTC') AS day, device_name, COUNT(*) AS samples, ")
	query.WriteString("COUNT(pm2_5_calibrated) AS calibrated, AVG(COALESCE(pm2_5_calibrated, pm2_5)) AS avg_pm25, ")
	query.WriteString("MAX(COALESCE(pm2_5_calibrated, pm2_5)) AS max_pm25, AVG(COALESCE(pm10_calibrated, pm10)) AS avg_pm10, ")
	query.WriteString("AVG(temperature) AS avg_temperature ")
	query.WriteString("FROM airqo.measurements ")
	query.WriteString(whereClause + " ")
	query.WriteString("GROUP BY day, device_name ")
	query.WriteString("ORDER BY day DESC ")
	query.WriteString("LIMIT $" + strconv.Itoa(limitPos) + " OFFSET $" + strconv.Itoa(offsetPos))

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]DailyAggregate, 0, limit)
	for rows.Next() {
		var d DailyAggregate
		if err := rows.Scan(
			&d.Day,
			&d.DeviceName,
			&d.Samples,
			&d.Calibrated,
			&d.AvgPM25,
			&d.MaxPM25,
			&d.AvgPM10,
			&d.AvgTemperature,
		); err != nil {
			return nil, err
		}
		d.Day = d.Day.UTC()
		days = append(days, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &DailyAggregatesPage{Days: days, TotalCount: totalCount}, nil
}
