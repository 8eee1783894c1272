package util

import (
	"fmt"
	"strconv"
	"time"
)

// Options holds the module options as decoded from the configuration file.
type Options map[string]interface{}

// String returns the option key as string or def if it is missing.
func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("option %s: expected string, got %T", key, v)
}

// Int returns the option key as int or def if it is missing.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("option %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("option %s: expected integer, got %T", key, v)
}

// Bool returns the option key as bool or def if it is missing.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("option %s: %w", key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("option %s: expected bool, got %T", key, v)
}

// Duration returns the option key as duration or def if it is missing.
// Strings are parsed with time.ParseDuration, plain numbers are nanoseconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v), nil
	}
	return 0, fmt.Errorf("option %s: expected duration, got %T", key, v)
}

// Strings returns the option key as list of strings. A single string is returned as one element list.
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch v := v.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		ret := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("option %s: expected list of strings, got element %T", key, elem)
			}
			ret = append(ret, s)
		}
		return ret, nil
	}
	return nil, fmt.Errorf("option %s: expected list of strings, got %T", key, v)
}
