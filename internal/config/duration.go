package config

import "time"

// Duration parses a config duration string, falling back to def when
// the value is empty or malformed. Validation reports malformed values
// before this point; the fallback keeps runtime wiring total.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
