package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Key aliases seen across the measurements API variants.
var (
	DeviceKeys      = []string{"device", "device_id", "deviceId", "name"}
	SiteKeys        = []string{"site_name", "siteName", "site"}
	TimeKeys        = []string{"time", "timestamp", "created_at", "createdAt"}
	HumidityKeys    = []string{"humidity", "rh"}
	TemperatureKeys = []string{"temperature", "temp"}
	LatitudeKeys    = []string{"latitude", "lat"}
	LongitudeKeys   = []string{"longitude", "lon", "lng"}
	NetworkKeys     = []string{"network"}
	FrequencyKeys   = []string{"frequency"}
	PM25Keys        = []string{"pm2_5", "pm25", "pm_2_5"}
	PM10Keys        = []string{"pm10", "pm_10"}

	RawValueKeys        = []string{"value", "rawValue", "raw_value", "raw"}
	CalibratedValueKeys = []string{"calibratedValue", "calibrated_value", "calibrated", "calibratedValueUg", "calibratedValueUG"}
)

// Pick returns the value of the first key present in m, or def.
// A present key wins even when its value is null.
func Pick(m map[string]any, def any, keys ...string) any {
	if m == nil {
		return def
	}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return def
}

// Number coerces v to a finite float. Anything else reports false.
func Number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x.String()), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatNumber prints four decimals and trims trailing zeros and the dot.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// NumberText is Number followed by FormatNumber; absent values give "".
func NumberText(v any) string {
	f, ok := Number(v)
	if !ok {
		return ""
	}
	return FormatNumber(f)
}

// Text renders a scalar as text; nil gives "".
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Pollutant resolves the raw and calibrated readings for a pollutant.
//
// The field may be a nested object carrying a raw and/or calibrated value, a
// bare scalar treated as the raw value, or absent. A missing calibrated value
// falls back to the raw one.
func Pollutant(item map[string]any, keys ...string) (raw, calibrated string) {
	obj := Pick(item, nil, keys...)
	if obj == nil {
		return "", ""
	}

	if nested, ok := obj.(map[string]any); ok {
		raw = NumberText(Pick(nested, "", RawValueKeys...))
		calibrated = NumberText(Pick(nested, "", CalibratedValueKeys...))
	} else {
		raw = NumberText(obj)
	}

	if calibrated == "" && raw != "" {
		calibrated = raw
	}
	return raw, calibrated
}
