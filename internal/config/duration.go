package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations appear in the file as Go duration strings ("30s", "5m",
// "1h30m"). They stay strings in Config so a reload can re-parse them; the
// settings builder converts them once per revision.

// ParseDurationField parses one duration-string field. Empty means zero
// (callers substitute their default); negatives are rejected. The path
// names the offending key in the error, e.g. "dispatcher.interval".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// omitted (or zero) value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
