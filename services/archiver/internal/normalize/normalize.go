package normalize

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
)

const (
	isoLayout      = "2006-01-02T15:04:05-07:00"
	isoMicroLayout = "2006-01-02T15:04:05.000000-07:00"

	// Epoch milliseconds for 0001-01-01 and 9999-12-31T23:59:59.999.
	minEpochMillis = -62135596800000
	maxEpochMillis = 253402300799999
)

// Accepted ISO-8601 shapes. Fractional seconds are accepted after the seconds
// field by every layout; layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// FormatTimestamp renders t in UTC with an explicit +00:00 offset, adding
// microseconds only when present.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format(isoMicroLayout)
	}
	return t.Format(isoLayout)
}

// ParseTimestamp parses an ISO-8601 string; a trailing Z is read as +00:00.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NormalizeTimestamp converts epoch milliseconds or an ISO-8601 string to a
// UTC ISO-8601 string. Unparseable strings are returned verbatim.
func NormalizeTimestamp(v any) string {
	switch x := v.(type) {
	case nil, bool:
		return ""
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return ""
		}
		if t, ok := ParseTimestamp(s); ok {
			return FormatTimestamp(t)
		}
		return s
	case json.Number, float64, float32, int, int64:
		ms, ok := Number(x)
		if !ok || ms == 0 || ms < minEpochMillis || ms > maxEpochMillis {
			return ""
		}
		return FormatTimestamp(time.UnixMicro(int64(math.Round(ms * 1000))))
	default:
		return ""
	}
}

// Normalize maps one raw measurement onto the schema. It never fails:
// malformed fields become "".
func Normalize(item models.RawMeasurement, schema models.Schema) models.Row {
	pm25Raw, pm25Cal := Pollutant(item, PM25Keys...)
	pm10Raw, pm10Cal := Pollutant(item, PM10Keys...)

	row := models.Row{
		models.ColDatetime:       NormalizeTimestamp(Pick(item, "", TimeKeys...)),
		models.ColDeviceName:     Text(Pick(item, "", DeviceKeys...)),
		models.ColFrequency:      Text(Pick(item, "", FrequencyKeys...)),
		models.ColHumidity:       NumberText(Pick(item, "", HumidityKeys...)),
		models.ColLatitude:       NumberText(Pick(item, "", LatitudeKeys...)),
		models.ColLongitude:      NumberText(Pick(item, "", LongitudeKeys...)),
		models.ColNetwork:        Text(Pick(item, "", NetworkKeys...)),
		models.ColPM10:           pm10Raw,
		models.ColPM10Calibrated: pm10Cal,
		models.ColPM25:           pm25Raw,
		models.ColPM25Calibrated: pm25Cal,
		models.ColSiteName:       Text(Pick(item, "", SiteKeys...)),
		models.ColTemperature:    NumberText(Pick(item, "", TemperatureKeys...)),
	}
	return row.Fill(schema)
}

// NormalizeAll normalizes every object item and counts the items skipped
// because they were not JSON objects.
func NormalizeAll(items []any, schema models.Schema) ([]models.Row, int) {
	rows := make([]models.Row, 0, len(items))
	skipped := 0
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, Normalize(obj, schema))
	}
	return rows, skipped
}
