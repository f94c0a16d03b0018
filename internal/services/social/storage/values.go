package storage

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp is a field value resolved to the commit time by the store.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Incrementer is a field value applied as an atomic numeric adjustment.
type Incrementer struct {
	Delta int64
}

// Increment adds delta to the stored number; a missing or non-numeric field
// counts as zero.
func Increment(delta int64) Incrementer {
	return Incrementer{Delta: delta}
}

// ResolveWrite computes the fields a Set leaves behind given the current
// document. Sentinels resolve against now and the current values.
func ResolveWrite(current Fields, exists bool, w Write, now time.Time) (Fields, error) {
	base := Fields{}
	if w.Merge && exists {
		base = CloneFields(current)
	}
	for key, value := range w.Fields {
		switch v := value.(type) {
		case serverTimestamp:
			base[key] = now.UTC()
		case Incrementer:
			var prior any
			if exists {
				prior = current[key]
			}
			base[key] = addNumber(prior, v.Delta)
		default:
			normalized, err := NormalizeValue(value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			base[key] = normalized
		}
	}
	return base, nil
}

func addNumber(prior any, delta int64) any {
	switch p := prior.(type) {
	case int64:
		return p + delta
	case float64:
		return p + float64(delta)
	default:
		return delta
	}
}

// NormalizeValue maps a Go value onto the stored value space: nil, bool,
// string, int64, float64, time.Time (UTC), []any, and map[string]any.
func NormalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, int64, float64:
		return v, nil
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return v.UTC(), nil
	case Fields:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case []any:
		return normalizeSlice(reflect.ValueOf(v))
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice, reflect.Array:
		return normalizeSlice(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			nv, err := NormalizeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = nv
		}
		return out, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return NormalizeValue(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("unsupported value type %T", value)
}

func normalizeMap(m map[string]any) (any, error) {
	out := make(map[string]any, len(m))
	for key, value := range m {
		nv, err := NormalizeValue(value)
		if err != nil {
			return nil, err
		}
		out[key] = nv
	}
	return out, nil
}

func normalizeSlice(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		nv, err := NormalizeValue(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// CloneFields deep-copies stored fields.
func CloneFields(fields Fields) Fields {
	if fields == nil {
		return nil
	}
	out := make(Fields, len(fields))
	for key, value := range fields {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
