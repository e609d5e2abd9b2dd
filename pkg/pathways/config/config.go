package config

import (
	"time"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
// Strings are parsed with time.ParseDuration; numbers are seconds.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	if d, ok := toDuration(c.data[key]); ok {
		return d
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
func (c Config) Int(key string, defaultVal int) int {
	if n, ok := toInt(c.data[key]); ok {
		return n
	}
	return defaultVal
}

// BoolPtr returns a pointer to the boolean value for key, or nil when absent.
func (c Config) BoolPtr(key string) *bool {
	b, ok := c.data[key].(bool)
	if !ok {
		return nil
	}
	return &b
}

// IntPtr returns a pointer to the integer value for key, or nil when absent.
func (c Config) IntPtr(key string) *int {
	n, ok := toInt(c.data[key])
	if !ok {
		return nil
	}
	return &n
}

// Sub returns the nested object at key, or an empty Config.
func (c Config) Sub(key string) Config {
	if m, ok := c.data[key].(map[string]any); ok {
		return New(m)
	}
	return New(nil)
}

// List returns the objects in the array at key. Non-object elements are
// skipped.
func (c Config) List(key string) []Config {
	items, ok := c.data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Config, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, New(m))
		}
	}
	return out
}

// Keys returns the keys present at this level, unordered.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}

func toDuration(v any) (time.Duration, bool) {
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d, true
		}
	case float64:
		return time.Duration(val * float64(time.Second)), true
	case int:
		return time.Duration(val) * time.Second, true
	case int64:
		return time.Duration(val) * time.Second, true
	case time.Duration:
		return val, true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		// Only convert if there's no fractional part
		if val == float64(int(val)) {
			return int(val), true
		}
	}
	return 0, false
}
