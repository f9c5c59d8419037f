package pathstore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Normalize переводит произвольное значение в простую JSON-структуру
// (map[string]any, []any, string, float64, bool, nil).
// Циклы, неподдерживаемые типы и NaN/Inf дают ErrNotJSON.
func Normalize(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite number %v", ErrNotJSON, v)
		}
		return v, nil
	case nil, string, bool:
		return v, nil
	case json.RawMessage:
		return decode(v)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return decode(data)
}

// Encode сериализует значение в JSON после нормализации.
func Encode(value any) (json.RawMessage, error) {
	normalized, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return data, nil
}

func decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return out, nil
}

// Equal сравнивает два нормализованных значения
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// deepCopy копирует нормализованное значение
func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// children возвращает дочерние значения в детерминированном порядке
func children(value any) []any {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, v[k])
		}
		return out
	case []any:
		return v
	default:
		return nil
	}
}
