package models

// Column names shared by every archive schema.
const (
	ColDatetime       = "datetime"
	ColDeviceName     = "device_name"
	ColFrequency      = "frequency"
	ColHumidity       = "humidity"
	ColLatitude       = "latitude"
	ColLongitude      = "longitude"
	ColNetwork        = "network"
	ColPM10           = "pm10"
	ColPM10Calibrated = "pm10_calibrated_value"
	ColPM25           = "pm2_5"
	ColPM25Calibrated = "pm2_5_calibrated_value"
	ColSiteName       = "site_name"
	ColTemperature    = "temperature"
)

// Schema is the ordered column list written to the archive.
type Schema []string

// FullSchema mirrors every field the measurements feed exposes.
var FullSchema = Schema{
	ColDatetime,
	ColDeviceName,
	ColFrequency,
	ColHumidity,
	ColLatitude,
	ColLongitude,
	ColNetwork,
	ColPM10,
	ColPM10Calibrated,
	ColPM25,
	ColPM25Calibrated,
	ColSiteName,
	ColTemperature,
}

// ReducedSchema keeps only the PM2.5 columns.
var ReducedSchema = Schema{
	ColDatetime,
	ColDeviceName,
	ColSiteName,
	ColNetwork,
	ColPM25,
	ColPM25Calibrated,
}

// SchemaByName resolves "full" or "reduced".
func SchemaByName(name string) (Schema, bool) {
	switch name {
	case "full", "":
		return FullSchema, true
	case "reduced":
		return ReducedSchema, true
	default:
		return nil, false
	}
}

// Has reports whether the schema contains column.
func (s Schema) Has(column string) bool {
	for _, c := range s {
		if c == column {
			return true
		}
	}
	return false
}

// Row is one normalized measurement. Every value is text; missing values are "".
type Row map[string]string

// Get returns the value for column, "" when missing.
func (r Row) Get(column string) string {
	return r[column]
}

// Record renders the row in column order, backfilling missing columns.
func (r Row) Record(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// Fill returns a copy of the row holding exactly the given columns.
func (r Row) Fill(columns []string) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = r[c]
	}
	return out
}

// RawMeasurement is one untyped item from the measurements feed.
type RawMeasurement = map[string]any
