package db

import (
	"testing"
	"time"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
)

func TestFromRow(t *testing.T) {
	r := models.Row{
		models.ColDatetime:       "2024-01-01T10:00:00+00:00",
		models.ColDeviceName:     " aq-01 ",
		models.ColNetwork:        "airqo",
		models.ColPM25:           "12.3",
		models.ColPM25Calibrated: "",
		models.ColTemperature:    "n/a",
	}
	m, ok := FromRow(r)
	if !ok {
		t.Fatal("row rejected")
	}
	if m.DeviceName != "aq-01" || !m.TS.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("measurement = %+v", m)
	}
	if m.PM25 == nil || *m.PM25 != 12.3 {
		t.Fatalf("pm2_5 = %v", m.PM25)
	}
	if m.PM25Calibrated != nil || m.Temperature != nil || m.PM10 != nil {
		t.Fatalf("empty or invalid values should be NULL: %+v", m)
	}
}

func TestFromRowRejectsUnkeyedRows(t *testing.T) {
	rows := []models.Row{
		{models.ColDatetime: "2024-01-01T10:00:00+00:00"},
		{models.ColDatetime: "yesterday", models.ColDeviceName: "aq-01"},
	}
	for _, r := range rows {
		if _, ok := FromRow(r); ok {
			t.Errorf("FromRow(%v) accepted", r)
		}
	}
}
