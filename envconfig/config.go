// Package envconfig reads edgeinfer settings from EDGE_* environment
// variables. Every getter reads the environment on each call, so tests and
// commands can change it at any time.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultArenaSize   = 176*1024 + 40*1024
	DefaultPoolSize    = 8 * 1024 * 1024
	DefaultCyclePeriod = 10 * time.Millisecond

	InputModePull = "pull"
	InputModePush = "push"
)

// Var returns the trimmed value of key with surrounding quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel is controlled by EDGE_DEBUG: unset or false is info, true or 1 is
// debug, 2 is trace.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("EDGE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// InputMode returns EDGE_INPUT_MODE, pull by default.
func InputMode() string {
	switch s := strings.ToLower(Var("EDGE_INPUT_MODE")); s {
	case "", InputModePull:
		return InputModePull
	case InputModePush:
		return InputModePush
	default:
		slog.Warn("invalid environment variable, using default", "key", "EDGE_INPUT_MODE", "value", s, "default", InputModePull)
		return InputModePull
	}
}

// CyclePeriod is the pause between pull cycles. Plain integers are
// milliseconds.
func CyclePeriod() time.Duration {
	if s := Var("EDGE_CYCLE_PERIOD"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			return d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
		slog.Warn("invalid environment variable, using default", "key", "EDGE_CYCLE_PERIOD", "value", s, "default", DefaultCyclePeriod)
	}
	return DefaultCyclePeriod
}

// Labels returns the comma separated category labels from EDGE_LABELS.
func Labels() []string {
	s := Var("EDGE_LABELS")
	if s == "" {
		return []string{"no fruit", "fruit"}
	}
	labels := strings.Split(s, ",")
	for i := range labels {
		labels[i] = strings.TrimSpace(labels[i])
	}
	return labels
}

// PoolName names the external memory pool in diagnostics.
func PoolName() string {
	if s := Var("EDGE_POOL_NAME"); s != "" {
		return s
	}
	return "psram"
}

// MQTTTopic is the topic scores are published to.
func MQTTTopic() string {
	if s := Var("EDGE_MQTT_TOPIC"); s != "" {
		return s
	}
	return "edgeinfer/scores"
}

var (
	// Model is the path of the compiled model blob.
	Model = String("EDGE_MODEL")
	// FrameDir is the directory the pull source reads images from. Empty
	// selects the synthetic pattern source.
	FrameDir = String("EDGE_FRAME_DIR")
	// MQTTBroker is the broker URL for published scores, e.g. tcp://localhost:1883.
	MQTTBroker = String("EDGE_MQTT_BROKER")
	// Profile logs the per-operator report after every invocation when the
	// binary was built with the profile tag.
	Profile = Bool("EDGE_PROFILE")
)

var (
	// ArenaSize is the arena reservation in bytes.
	ArenaSize = Uint("EDGE_ARENA_SIZE", DefaultArenaSize)
	// PoolSize is the capacity of the simulated external pool in bytes.
	PoolSize = Uint("EDGE_POOL_SIZE", DefaultPoolSize)
)
