// Package util holds small helpers shared across the service: environment
// parsing for the VOXFLOW_* configuration toggles and id generation.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean toggle such as VOXFLOW_DEBUG from the
// environment. It accepts true/1/yes/on and false/0/no/off, case-insensitive;
// an unset variable yields defaultValue, and an unparseable one warns and
// falls back to defaultValue rather than failing startup.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using default",
		"key", key, "value", raw, "default", defaultValue)
	return defaultValue
}
