package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests configuration loading with no environment overrides.
// It verifies the realtime defaults documented for the RT_* variables.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	rt := cfg.Realtime
	assert.Equal(t, 256, rt.QueueCapacity)
	assert.Equal(t, 30*time.Second, rt.Heartbeat)
	assert.Equal(t, 10*time.Second, rt.ReapInterval)
	assert.Equal(t, 60*time.Second, rt.OnlineWindow)
	assert.Equal(t, 300*time.Second, rt.AwayCutoff)
	assert.Equal(t, 32, rt.DropThreshold)
	assert.Equal(t, 60*time.Second, rt.DropWindow)
	assert.Equal(t, 10*time.Second, rt.WriteTimeout)
	assert.Equal(t, 2*time.Second, rt.PresenceDebounce)
	assert.Equal(t, 5, cfg.Server.MaxConnectionsPerUser)
	assert.True(t, cfg.Server.AllowEmptyOrigin)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

// TestLoadRealtimeOverrides tests that RT_* variables are read as whole seconds.
func TestLoadRealtimeOverrides(t *testing.T) {
	t.Setenv("RT_QUEUE_CAPACITY", "8")
	t.Setenv("RT_HEARTBEAT_SECS", "5")
	t.Setenv("RT_REAP_INTERVAL_SECS", "1")
	t.Setenv("RT_ONLINE_WINDOW_SECS", "20")
	t.Setenv("RT_AWAY_CUTOFF_SECS", "40")
	t.Setenv("RT_DROP_THRESHOLD", "3")
	t.Setenv("RT_DROP_WINDOW_SECS", "7")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Realtime.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.Realtime.Heartbeat)
	assert.Equal(t, time.Second, cfg.Realtime.ReapInterval)
	assert.Equal(t, 20*time.Second, cfg.Realtime.OnlineWindow)
	assert.Equal(t, 40*time.Second, cfg.Realtime.AwayCutoff)
	assert.Equal(t, 3, cfg.Realtime.DropThreshold)
	assert.Equal(t, 7*time.Second, cfg.Realtime.DropWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

// TestLoadIgnoresMalformedValues tests that unparsable values keep their defaults.
func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RT_QUEUE_CAPACITY", "lots")
	t.Setenv("RT_HEARTBEAT_SECS", "-4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Realtime.QueueCapacity)
	assert.Equal(t, 30*time.Second, cfg.Realtime.Heartbeat)
}

// TestValidateRejectsInvertedWindows tests that the away cutoff must exceed the online window.
func TestValidateRejectsInvertedWindows(t *testing.T) {
	t.Setenv("RT_ONLINE_WINDOW_SECS", "120")
	t.Setenv("RT_AWAY_CUTOFF_SECS", "60")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "away cutoff")
}

// TestValidateProductionSecret tests that production refuses the default JWT secret.
func TestValidateProductionSecret(t *testing.T) {
	t.Setenv("ENV", "production")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "a-real-secret")
	_, err = Load()
	require.NoError(t, err)
}

// TestLoadFile tests loading an explicit dotenv file.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.env")
	require.NoError(t, os.WriteFile(path, []byte("RT_DROP_THRESHOLD=9\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("RT_DROP_THRESHOLD") })

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Realtime.DropThreshold)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
