package envconfig

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"true":  slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
		"junk":  slog.LevelInfo,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("EDGE_DEBUG", k)
			assert.Equal(t, v, LogLevel())
		})
	}
}

func TestSizes(t *testing.T) {
	t.Setenv("EDGE_ARENA_SIZE", "")
	assert.Equal(t, uint(DefaultArenaSize), ArenaSize())

	t.Setenv("EDGE_ARENA_SIZE", "65536")
	assert.Equal(t, uint(65536), ArenaSize())

	t.Setenv("EDGE_POOL_SIZE", "-1")
	assert.Equal(t, uint(DefaultPoolSize), PoolSize())

	t.Setenv("EDGE_POOL_SIZE", "'1048576'")
	assert.Equal(t, uint(1<<20), PoolSize())
}

func TestInputMode(t *testing.T) {
	cases := map[string]string{
		"":     InputModePull,
		"pull": InputModePull,
		"PUSH": InputModePush,
		"poll": InputModePull,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("EDGE_INPUT_MODE", k)
			assert.Equal(t, v, InputMode())
		})
	}
}

func TestCyclePeriod(t *testing.T) {
	cases := map[string]time.Duration{
		"":      DefaultCyclePeriod,
		"250ms": 250 * time.Millisecond,
		"2s":    2 * time.Second,
		"40":    40 * time.Millisecond,
		"0":     0,
		"-5s":   DefaultCyclePeriod,
		"soon":  DefaultCyclePeriod,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("EDGE_CYCLE_PERIOD", k)
			assert.Equal(t, v, CyclePeriod())
		})
	}
}

func TestLabels(t *testing.T) {
	t.Setenv("EDGE_LABELS", "")
	assert.Equal(t, []string{"no fruit", "fruit"}, Labels())

	t.Setenv("EDGE_LABELS", " cat , dog,bird ")
	assert.Equal(t, []string{"cat", "dog", "bird"}, Labels())
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		"yes":   true,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("EDGE_PROFILE", k)
			assert.Equal(t, v, Profile())
		})
	}
}

func TestVar(t *testing.T) {
	t.Setenv("EDGE_MODEL", ` "/models/fruit.edge" `)
	assert.Equal(t, "/models/fruit.edge", Model())
}

func TestAsMap(t *testing.T) {
	t.Setenv("EDGE_POOL_NAME", "sram1")
	t.Setenv("EDGE_MQTT_TOPIC", "")

	m := AsMap()
	for k, v := range m {
		assert.Equal(t, k, v.Name)
		assert.NotEmpty(t, v.Description, k)
	}

	vals := Values()
	require.Contains(t, vals, "EDGE_POOL_NAME")
	assert.Equal(t, "sram1", vals["EDGE_POOL_NAME"])
	assert.Equal(t, "edgeinfer/scores", vals["EDGE_MQTT_TOPIC"])
}
