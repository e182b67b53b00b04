// Package config loads the coordination server configuration from the
// environment with logged defaults and fail-fast validation.
package config

import (
	"fmt"
	"time"
)

// Config holds all runtime settings for the coordination server.
type Config struct {
	// Server settings.
	ServerName string
	ServerPort int
	LogLevel   string

	// Redis connection.
	RedisURL          string
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
	OpTimeout         time.Duration // per backend call

	// Lock defaults.
	DefaultLockTimeout time.Duration
	MaxLockTimeout     time.Duration
	HeartbeatTTL       time.Duration

	// Session staleness tiers, strictly increasing.
	ActiveThreshold    time.Duration
	IdleThreshold      time.Duration
	StaleThreshold     time.Duration
	AbandonedThreshold time.Duration

	// SessionID overrides the derived session identity when set.
	SessionID string
}

// FromEnv loads configuration with precedence ENV > defaults.
func FromEnv() Config {
	return Config{
		ServerName: ParseString("SERVER_NAME", "mcp-coordination"),
		ServerPort: ParseInt("SERVER_PORT", 8082),
		LogLevel:   ParseString("LOG_LEVEL", "info"),

		RedisURL:          ParseString("REDIS_URL", "redis://localhost:6379/0"),
		RedisDialTimeout:  ParseDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:  ParseDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout: ParseDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		OpTimeout:         ParseDuration("REDIS_OP_TIMEOUT", 2*time.Second),

		DefaultLockTimeout: time.Duration(ParseInt("DEFAULT_LOCK_TIMEOUT", 300)) * time.Second,
		MaxLockTimeout:     time.Duration(ParseInt("MAX_LOCK_TIMEOUT", 86400)) * time.Second,
		HeartbeatTTL:       time.Duration(ParseInt("HEARTBEAT_TTL", 300)) * time.Second,

		ActiveThreshold:    time.Duration(ParseInt("ACTIVE_THRESHOLD", 300)) * time.Second,
		IdleThreshold:      time.Duration(ParseInt("IDLE_THRESHOLD", 3600)) * time.Second,
		StaleThreshold:     time.Duration(ParseInt("STALE_THRESHOLD", 14400)) * time.Second,
		AbandonedThreshold: time.Duration(ParseInt("ABANDONED_THRESHOLD", 86400)) * time.Second,

		SessionID: ParseString("CLAUDE_SESSION_ID", ""),
	}
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.ServerPort)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("config: REDIS_URL must not be empty")
	}
	if c.DefaultLockTimeout <= 0 {
		return fmt.Errorf("config: DEFAULT_LOCK_TIMEOUT must be positive, got %s", c.DefaultLockTimeout)
	}
	if c.MaxLockTimeout < c.DefaultLockTimeout {
		return fmt.Errorf("config: MAX_LOCK_TIMEOUT %s is below DEFAULT_LOCK_TIMEOUT %s", c.MaxLockTimeout, c.DefaultLockTimeout)
	}
	if c.HeartbeatTTL <= 0 {
		return fmt.Errorf("config: HEARTBEAT_TTL must be positive, got %s", c.HeartbeatTTL)
	}
	// The staleness tiers only make sense strictly ordered.
	if !(c.ActiveThreshold < c.IdleThreshold &&
		c.IdleThreshold < c.StaleThreshold &&
		c.StaleThreshold < c.AbandonedThreshold) {
		return fmt.Errorf("config: session thresholds must be strictly increasing (active=%s idle=%s stale=%s abandoned=%s)",
			c.ActiveThreshold, c.IdleThreshold, c.StaleThreshold, c.AbandonedThreshold)
	}
	if c.ActiveThreshold <= 0 {
		return fmt.Errorf("config: ACTIVE_THRESHOLD must be positive, got %s", c.ActiveThreshold)
	}
	return nil
}
