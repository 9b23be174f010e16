package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "memory", c.Storage.Backend)
	assert.Equal(t, 15, c.Cascade.Watchlist.Tier1Capacity)
	assert.Equal(t, 150, c.Cascade.Watchlist.Tier2Capacity)
	assert.Equal(t, 1.5, c.Cascade.Signals.MinRR)
	assert.Equal(t, 0.05, c.Cascade.Regime.HysteresisMargin)
	assert.Equal(t, "@every 5m", c.Cascade.Passes.Macro.Schedule)
	assert.Equal(t, time.Hour, c.Cascade.Passes.Sector.Timeout)
	assert.True(t, c.Cascade.Passes.Signals.Enabled)
	assert.Equal(t, []string{"global"}, c.Cascade.Watchlist.Contexts)
	assert.Equal(t, 30*time.Minute, c.Cascade.Signals.TTL)
	assert.Equal(t, []string{"*"}, c.Server.CORSOrigins)
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
cascade:
  passes:
    macro:
      schedule: "@every 10m"
      enabled: false
  watchlist:
    tier1_capacity: 5
    contexts: [global, experimental]
  signals:
    min_rr: 2.5
`))
	require.NoError(t, err)

	assert.Equal(t, "@every 10m", c.Cascade.Passes.Macro.Schedule)
	assert.Equal(t, 5*time.Minute, c.Cascade.Passes.Macro.Timeout)
	assert.False(t, c.Cascade.Passes.Macro.Enabled)
	assert.Equal(t, 5, c.Cascade.Watchlist.Tier1Capacity)
	assert.Equal(t, []string{"global", "experimental"}, c.Cascade.Watchlist.Contexts)
	assert.Equal(t, 2.5, c.Cascade.Signals.MinRR)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"unknown backend", "storage:\n  backend: mongo\n", "storage.backend"},
		{"postgres without dsn", "storage:\n  backend: postgres\n", "postgres.dsn"},
		{"lock without redis", "cascade:\n  distributed_lock: true\n", "distributed_lock"},
		{"tier1 over tier2", "cascade:\n  watchlist:\n    tier1_capacity: 200\n", "tier1_capacity"},
		{"bad thresholds", "cascade:\n  watchlist:\n    demote_threshold: 0.9\n", "thresholds"},
		{"zero min rr", "cascade:\n  signals:\n    min_rr: 0\n", "min_rr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	env := map[string]string{
		"STORAGE_BACKEND": "postgres",
		"POSTGRES_DSN":    "postgres://localhost/cascade",
		"REDIS_ADDR":      "redis:6380",
		"KAFKA_BROKERS":   "k1:9092,k2:9092",
		"HTTP_PORT":       "9090",
	}
	c.applyEnv(func(k string) string { return env[k] })

	require.NoError(t, c.Validate())
	assert.Equal(t, "postgres", c.Storage.Backend)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6380", c.RedisAddr())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 9090, c.Server.Port)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("CASCADE_ENV", "staging")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9191, c.Server.Port)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, "memory", c.Storage.Backend)
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "console", c.Log.Format)
	assert.Equal(t, []string{"http://localhost:3000"}, c.Server.CORSOrigins)
	assert.Equal(t, "@every 15s", c.Cascade.Passes.Signals.Schedule)
	assert.Equal(t, 10*time.Second, c.Redis.Queue.RetryDelay)
	assert.Equal(t, time.Minute, c.Cascade.Passes.Watchlist.Timeout, "timeout defaults to the period")
}
