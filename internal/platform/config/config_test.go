package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, time.Minute, cfg.VitalsCadence)
	assert.Equal(t, "scripted", cfg.OracleProvider)
	assert.Equal(t, 20*time.Second, cfg.OracleTimeout)
	assert.Equal(t, DefaultTuning(), cfg.Tuning())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RHENAL_TIME_SCALE", "10")
	t.Setenv("RHENAL_ORACLE_PROVIDER", "anthropic")
	t.Setenv("RHENAL_JOURNAL_DRIVER", "postgres")
	t.Setenv("RHENAL_TUNING_PROFILE", "low")
	t.Setenv("RHENAL_START_TIME", "2026-03-01T08:00:00Z")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.TimeScale)
	assert.Equal(t, "anthropic", cfg.OracleProvider)
	assert.Equal(t, LowResourceTuning(), cfg.Tuning())
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), cfg.Start(time.Time{}))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"RHENAL_TIME_SCALE":      "0",
		"RHENAL_ORACLE_PROVIDER": "gemini",
		"RHENAL_JOURNAL_DRIVER":  "mysql",
		"RHENAL_START_TIME":      "yesterday",
		"RHENAL_TICK_INTERVAL":   "soon",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestStartFallback(t *testing.T) {
	fb := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{}
	assert.Equal(t, fb, cfg.Start(fb))
}

func TestTuningFor(t *testing.T) {
	assert.Equal(t, StressTuning(), TuningFor("stress"))
	assert.Equal(t, DefaultTuning(), TuningFor("whatever"))
	assert.Greater(t, StressTuning().CommandQueueBuffer, LowResourceTuning().CommandQueueBuffer)
}

func TestLoadRejectsOutOfRangeScale(t *testing.T) {
	for _, val := range []string{"NaN", "+Inf", "1e300", "-2"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("RHENAL_TIME_SCALE", val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
