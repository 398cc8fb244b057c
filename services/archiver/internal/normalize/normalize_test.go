package normalize

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
)

func decodeItem(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestNormalizeScenario(t *testing.T) {
	item := decodeItem(t, `{"device":"aq-01","time":"2024-01-01T00:00:00Z","pm2_5":{"value":12.3}}`)
	row := Normalize(item, models.FullSchema)

	if got := row[models.ColPM25]; got != "12.3" {
		t.Errorf("pm2_5 = %q, want 12.3", got)
	}
	if got := row[models.ColPM25Calibrated]; got != "12.3" {
		t.Errorf("pm2_5_calibrated_value = %q, want 12.3", got)
	}
	if got := row[models.ColDatetime]; got != "2024-01-01T00:00:00+00:00" {
		t.Errorf("datetime = %q", got)
	}
	if got := row[models.ColDeviceName]; got != "aq-01" {
		t.Errorf("device_name = %q", got)
	}
	if len(row) != len(models.FullSchema) {
		t.Errorf("row has %d columns, want %d", len(row), len(models.FullSchema))
	}
	for _, c := range models.FullSchema {
		if _, ok := row[c]; !ok {
			t.Errorf("column %s missing", c)
		}
	}
}

func TestNormalizeAliasesAndNumbers(t *testing.T) {
	item := decodeItem(t, `{
		"deviceId": "aq-07",
		"siteName": "Kampala Central",
		"timestamp": 1704067200000,
		"rh": "55.10",
		"temp": 24,
		"lat": 0.3476,
		"lng": "32.5825",
		"network": "airqo",
		"frequency": "hourly",
		"pm10": {"rawValue": 40.5, "calibrated": 38.0},
		"pm25": 20
	}`)
	row := Normalize(item, models.FullSchema)
	want := models.Row{
		models.ColDatetime:       "2024-01-01T00:00:00+00:00",
		models.ColDeviceName:     "aq-07",
		models.ColFrequency:      "hourly",
		models.ColHumidity:       "55.1",
		models.ColLatitude:       "0.3476",
		models.ColLongitude:      "32.5825",
		models.ColNetwork:        "airqo",
		models.ColPM10:           "40.5",
		models.ColPM10Calibrated: "38",
		models.ColPM25:           "20",
		models.ColPM25Calibrated: "20",
		models.ColSiteName:       "Kampala Central",
		models.ColTemperature:    "24",
	}
	for k, v := range want {
		if row[k] != v {
			t.Errorf("%s = %q, want %q", k, row[k], v)
		}
	}
}

func TestNormalizeReducedSchema(t *testing.T) {
	item := decodeItem(t, `{"device":"aq-01","time":"2024-01-01T00:00:00Z","temperature":20,"pm2_5":3}`)
	row := Normalize(item, models.ReducedSchema)
	if len(row) != len(models.ReducedSchema) {
		t.Fatalf("row has %d columns, want %d", len(row), len(models.ReducedSchema))
	}
	if _, ok := row[models.ColTemperature]; ok {
		t.Fatalf("reduced row should not carry temperature")
	}
}

func TestNormalizeMalformedNeverFails(t *testing.T) {
	item := decodeItem(t, `{"device":null,"time":{"bad":true},"humidity":"wet","pm2_5":{"value":"x"}}`)
	row := Normalize(item, models.FullSchema)
	for _, c := range models.FullSchema {
		if row[c] != "" {
			t.Errorf("%s = %q, want empty", c, row[c])
		}
	}
}

func TestNormalizeTimestampEquivalence(t *testing.T) {
	z := NormalizeTimestamp("2024-03-05T10:15:00Z")
	offset := NormalizeTimestamp("2024-03-05T13:15:00+03:00")
	if z != offset {
		t.Fatalf("Z form %q and offset form %q differ", z, offset)
	}
	if z != "2024-03-05T10:15:00+00:00" {
		t.Fatalf("unexpected normalized value %q", z)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"empty", "  ", ""},
		{"zero epoch", json.Number("0"), ""},
		{"epoch millis", json.Number("1704067200000"), "2024-01-01T00:00:00+00:00"},
		{"epoch millis float", 1704067200123.0, "2024-01-01T00:00:00.123000+00:00"},
		{"fractional Z", "2024-01-01T00:00:00.5Z", "2024-01-01T00:00:00.500000+00:00"},
		{"naive as UTC", "2024-01-01T06:30:00", "2024-01-01T06:30:00+00:00"},
		{"space separator", "2024-01-01 06:30:00+01:00", "2024-01-01T05:30:00+00:00"},
		{"compact offset", "2024-01-01T06:30:00+0100", "2024-01-01T05:30:00+00:00"},
		{"date only", "2024-01-01", "2024-01-01T00:00:00+00:00"},
		{"unparseable passthrough", " yesterday ", "yesterday"},
		{"bool", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeTimestamp(tc.in); got != tc.want {
				t.Fatalf("NormalizeTimestamp(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeAllSkipsNonObjects(t *testing.T) {
	items := []any{
		map[string]any{"device": "a", "time": "2024-01-01T00:00:00Z"},
		"garbage",
		nil,
		map[string]any{"device": "b", "time": "2024-01-01T00:00:00Z"},
	}
	rows, skipped := NormalizeAll(items, models.FullSchema)
	if len(rows) != 2 || skipped != 2 {
		t.Fatalf("rows=%d skipped=%d, want 2 and 2", len(rows), skipped)
	}
}
