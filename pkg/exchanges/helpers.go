package exchanges

import (
	"fmt"
	"time"
)

// GetString reads a string option.
func GetString(config map[string]interface{}, key, defaultValue string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return defaultValue
}

// GetInt reads an integer option. YAML decoders may hand back int or float64.
func GetInt(config map[string]interface{}, key string, defaultValue int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

// GetFloat reads a float option.
func GetFloat(config map[string]interface{}, key string, defaultValue float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return defaultValue
}

// GetBool reads a boolean option.
func GetBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if b, ok := config[key].(bool); ok {
		return b
	}
	return defaultValue
}

// GetDuration reads a duration option written as a Go duration string ("90s").
func GetDuration(config map[string]interface{}, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := config[key]
	if !ok {
		return defaultValue, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a duration string", ErrInvalidConfig, key)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	return d, nil
}

// GetMapSlice reads a list of mappings (e.g. pools).
func GetMapSlice(config map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := config[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
