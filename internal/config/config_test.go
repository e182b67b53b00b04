package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "mcp-coordination", cfg.ServerName)
	assert.Equal(t, 8082, cfg.ServerPort)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 300*time.Second, cfg.DefaultLockTimeout)
	assert.Equal(t, 300*time.Second, cfg.HeartbeatTTL)
	assert.Equal(t, 300*time.Second, cfg.ActiveThreshold)
	assert.Equal(t, 3600*time.Second, cfg.IdleThreshold)
	assert.Equal(t, 14400*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 86400*time.Second, cfg.AbandonedThreshold)

	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SERVER_NAME", "coord-test")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("REDIS_URL", "redis://redis.internal:6379/2")
	t.Setenv("DEFAULT_LOCK_TIMEOUT", "60")
	t.Setenv("ACTIVE_THRESHOLD", "120")
	t.Setenv("CLAUDE_SESSION_ID", "host-1-session")

	cfg := FromEnv()

	assert.Equal(t, "coord-test", cfg.ServerName)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, "redis://redis.internal:6379/2", cfg.RedisURL)
	assert.Equal(t, 60*time.Second, cfg.DefaultLockTimeout)
	assert.Equal(t, 120*time.Second, cfg.ActiveThreshold)
	assert.Equal(t, "host-1-session", cfg.SessionID)
}

func TestFromEnv_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, 8082, cfg.ServerPort)
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	// Equal thresholds are rejected: the ordering must be strict.
	bad := cfg
	bad.IdleThreshold = bad.ActiveThreshold
	assert.Error(t, bad.Validate())

	// Inverted ordering is rejected.
	bad = cfg
	bad.StaleThreshold = 2 * bad.AbandonedThreshold
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ActiveThreshold = -time.Second
	assert.Error(t, bad.Validate())
}

func TestValidate_LockTimeouts(t *testing.T) {
	cfg := FromEnv()

	bad := cfg
	bad.DefaultLockTimeout = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxLockTimeout = cfg.DefaultLockTimeout / 2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.HeartbeatTTL = 0
	assert.Error(t, bad.Validate())
}

func TestValidate_ServerSettings(t *testing.T) {
	cfg := FromEnv()

	bad := cfg
	bad.ServerPort = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RedisURL = ""
	assert.Error(t, bad.Validate())
}
