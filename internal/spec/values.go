package spec

import (
	"encoding/json"
	"math"
	"reflect"
)

// CloneValue deep copies JSON/YAML shaped values. Scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// IsArray reports whether v is a slice or array value. Byte slices count as
// scalars.
func IsArray(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

func ArrayLen(v any) int {
	if !IsArray(v) {
		return 0
	}
	return reflect.ValueOf(v).Len()
}

// AsNumber converts Go numeric kinds and json.Number. Strings are not numbers.
func AsNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// AsInt accepts only integral numbers.
func AsInt(v any) (int, bool) {
	f, ok := AsNumber(v)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
