package sqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/bliss/internal/services/social/storage"
)

// Stored JSON tags values that JSON alone would not round-trip.
const (
	timeKey   = "$time"
	doubleKey = "$double"
)

func encodeFields(fields storage.Fields) (string, error) {
	encoded := make(map[string]any, len(fields))
	for key, value := range fields {
		encoded[key] = encodeValue(value)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

func encodeValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return map[string]any{timeKey: v.UTC().Format(time.RFC3339Nano)}
	case float64:
		return map[string]any{doubleKey: v}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = encodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeFields(data string) (storage.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	fields := make(storage.Fields, len(raw))
	for key, value := range raw {
		decoded, err := decodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		fields[key] = decoded
	}
	return fields, nil
}

func decodeValue(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		return v.Float64()
	case map[string]any:
		if len(v) == 1 {
			if s, ok := v[timeKey].(string); ok {
				return time.Parse(time.RFC3339Nano, s)
			}
			if n, ok := v[doubleKey].(json.Number); ok {
				return n.Float64()
			}
		}
		out := make(map[string]any, len(v))
		for key, item := range v {
			decoded, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			decoded, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return v, nil
	}
}
