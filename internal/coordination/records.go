// Package coordination implements distributed locking and session
// tracking over a shared Redis keyspace.
//
// Lock hierarchy follows the wave/issue pattern:
//
//	claude:locks:issue:{number}     - lock for issue #42
//	claude:locks:wave:{id}          - lock for wave 5c
//	claude:locks:wave:{id}.{issue}  - lock for wave 5c issue 1
//	claude:locks:branch:{name}      - lock for a branch
//	claude:locks:resource:{name}    - lock for resources (pytest, pr-create, ...)
package coordination

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Key prefixes. The "claude" root is a deployment-wide constant shared
// with every other client of the keyspace.
const (
	LockPrefix      = "claude:locks"
	SessionPrefix   = "claude:sessions"
	HeartbeatPrefix = "claude:heartbeat"
)

// Reasons reported on unsuccessful outcomes. Callers branch on these
// programmatically, so the set is closed.
const (
	ReasonLockHeld           = "lock_held"
	ReasonRaceCondition      = "race_condition"
	ReasonNotOwner           = "not_owner"
	ReasonNotFound           = "not_found"
	ReasonInvalidArgument    = "invalid_argument"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonUnknown            = "unknown"
)

// ErrInvalidArgument marks requests that are rejected before any
// backend call is made.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrMalformedRecord marks a record in the backend that failed to
// decode. The key is unusable until repaired out of band.
var ErrMalformedRecord = errors.New("malformed record")

// LockRecord is the serialized value stored under a lock key. The
// worktree is purely informational.
type LockRecord struct {
	SessionID  string `json:"session_id"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
	Worktree   string `json:"worktree"`
}

// SessionRecord is the serialized value stored under a session key. It
// has no TTL; lifecycle is explicit via register/unregister.
type SessionRecord struct {
	SessionID     string            `json:"session_id"`
	StartedAt     string            `json:"started_at"`
	Worktree      string            `json:"worktree"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
	LastHeartbeat string            `json:"last_heartbeat,omitempty"`
}

func decodeLockRecord(key, raw string) (LockRecord, error) {
	var rec LockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return LockRecord{}, fmt.Errorf("lock record at %q: %w: %v", key, ErrMalformedRecord, err)
	}
	return rec, nil
}

func decodeSessionRecord(key, raw string) (SessionRecord, error) {
	var rec SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SessionRecord{}, fmt.Errorf("session record at %q: %w: %v", key, ErrMalformedRecord, err)
	}
	return rec, nil
}

func encode(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// timestamps are ISO-8601 UTC at second granularity.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
