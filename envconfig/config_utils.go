package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// BoolWithDefault returns a getter for k. Unparseable values count as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"EDGE_DEBUG":        {"EDGE_DEBUG", LogLevel(), "Show additional debug information (e.g. EDGE_DEBUG=1, 2 for trace)"},
		"EDGE_MODEL":        {"EDGE_MODEL", Model(), "Path of the compiled model blob"},
		"EDGE_ARENA_SIZE":   {"EDGE_ARENA_SIZE", ArenaSize(), "Arena size in bytes (default 221184)"},
		"EDGE_POOL_SIZE":    {"EDGE_POOL_SIZE", PoolSize(), "Capacity of the external memory pool in bytes (default 8 MiB)"},
		"EDGE_POOL_NAME":    {"EDGE_POOL_NAME", PoolName(), "Name of the external memory pool (default psram)"},
		"EDGE_INPUT_MODE":   {"EDGE_INPUT_MODE", InputMode(), "Input mode: pull (frame source) or push (caller supplied)"},
		"EDGE_FRAME_DIR":    {"EDGE_FRAME_DIR", FrameDir(), "Directory of images for the pull source (default synthetic frames)"},
		"EDGE_CYCLE_PERIOD": {"EDGE_CYCLE_PERIOD", CyclePeriod(), "Pause between pull cycles (default 10ms)"},
		"EDGE_LABELS":       {"EDGE_LABELS", Labels(), "Comma separated category labels"},
		"EDGE_PROFILE":      {"EDGE_PROFILE", Profile(), "Log the operator profile after every invocation"},
		"EDGE_MQTT_BROKER":  {"EDGE_MQTT_BROKER", MQTTBroker(), "MQTT broker for published scores"},
		"EDGE_MQTT_TOPIC":   {"EDGE_MQTT_TOPIC", MQTTTopic(), "MQTT topic for published scores (default edgeinfer/scores)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
