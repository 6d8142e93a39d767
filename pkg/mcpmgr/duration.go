package mcpmgr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from a number of seconds (30), a
// numeric string ("30") or a Go duration string ("30s", "1m30s").
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML renders the duration in seconds, like "60s".
func (d Duration) MarshalYAML() (any, error) {
	seconds := time.Duration(d).Seconds()
	if seconds == float64(int64(seconds)) {
		return fmt.Sprintf("%.0fs", seconds), nil
	}
	return fmt.Sprintf("%gs", seconds), nil
}

// Set parses s like the string form in a config file, so a *Duration can
// serve as a command-line flag value.
func (d *Duration) Set(s string) error {
	return d.parseValue(strings.TrimSpace(s))
}

// Type names the flag value type.
func (d *Duration) Type() string { return "duration" }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.parseValue(raw)
}

func (d *Duration) parseValue(raw any) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
		return nil
	case int:
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		if parsed, err := time.ParseDuration(v); err == nil {
			*d = Duration(parsed)
			return nil
		}
		if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			*d = Duration(time.Duration(seconds * float64(time.Second)))
			return nil
		}
		return fmt.Errorf("invalid duration format: %q", v)
	default:
		return fmt.Errorf("duration must be a number or string, got %T", raw)
	}
}
