package generators

import "fmt"

func getFloat(settings map[string]interface{}, key string, def float64) (float64, error) {
	if settings == nil {
		return def, nil
	}
	raw, ok := settings[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case string:
		return 0, fmt.Errorf("setting %s must be numeric, got string", key)
	default:
		return 0, fmt.Errorf("setting %s has unsupported type %T", key, raw)
	}
}

func getInt(settings map[string]interface{}, key string, def int64) (int64, error) {
	if settings == nil {
		return def, nil
	}
	raw, ok := settings[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("setting %s must be an integer, got %v", key, v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("setting %s has unsupported type %T", key, raw)
	}
}

func getString(settings map[string]interface{}, key, def string) (string, error) {
	if settings == nil {
		return def, nil
	}
	raw, ok := settings[key]
	if !ok {
		return def, nil
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("setting %s must be a string, got %T", key, raw)
	}
	return str, nil
}

func getMap(settings map[string]interface{}, key string) (map[string]interface{}, error) {
	if settings == nil {
		return nil, nil
	}
	raw, ok := settings[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			str, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("setting %s has non-string key %v", key, k)
			}
			out[str] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("setting %s must be a mapping, got %T", key, raw)
	}
}
