// Package kv provides a narrow, typed gateway over the Redis backing
// store. It exposes exactly the primitives the coordination core needs
// and hides connection lifecycle.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks transient backend failures (unreachable server,
// timeout). Callers treat it as fatal to the current request; it is
// never retried internally.
var ErrUnavailable = errors.New("backend unavailable")

// IsUnavailable reports whether err marks a transient backend failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ServerInfo describes the backing store for health reporting.
type ServerInfo struct {
	Version       string
	UptimeSeconds int64
}

// Store is the surface the coordination core consumes. All writes are
// single backend operations; PutIfAbsent binds the existence check and
// the TTL atomically in one round trip.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put writes unconditionally. A zero ttl means no expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// PutIfAbsent sets the key only if it does not exist, applying ttl
	// on success. It is never retried on ambiguous failures.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Expire sets or extends the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan enumerates keys matching a glob pattern using cursor
	// iteration, safe against large keyspaces.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// ServerInfo reports backend version and uptime.
	ServerInfo(ctx context.Context) (ServerInfo, error)

	// Close tears down the connection pool.
	Close() error
}
