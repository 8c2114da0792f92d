package model

import (
	"math"

	jsoniter "github.com/json-iterator/go"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

// cleanValue replaces values JSON cannot carry (NaN, ±Inf) with nil.
func cleanValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil
		}
		return val
	case float32:
		f := float64(val)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil
		}
		return val
	case map[string]any:
		return CleanData(val)
	case []any:
		cleaned := make([]any, len(val))
		for i, item := range val {
			cleaned[i] = cleanValue(item)
		}
		return cleaned
	default:
		return v
	}
}

// CleanData returns a copy of data that is safe to serialize.
func CleanData(data map[string]any) map[string]any {
	cleaned := make(map[string]any, len(data))
	for k, v := range data {
		cleaned[k] = cleanValue(v)
	}
	return cleaned
}

// MarshalTelemetry encodes records as the JSON array the remote side expects.
func MarshalTelemetry(records []TelemetryRecord) ([]byte, error) {
	out := make([]TelemetryRecord, len(records))
	for i, rec := range records {
		out[i] = TelemetryRecord{
			UniqueID: rec.UniqueID,
			Time:     rec.Time,
			Data:     CleanData(rec.Data),
		}
	}
	return jsonStd.Marshal(out)
}
