package coordination

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/devflow-tools/mcp-coordination/internal/config"
	"github.com/devflow-tools/mcp-coordination/internal/kv"
	"github.com/devflow-tools/mcp-coordination/internal/log"
	"github.com/devflow-tools/mcp-coordination/internal/metrics"
)

// Session status values. active/no_heartbeat are also persisted in
// session records; the tiers in between are derived at read time from
// heartbeat age and never written back.
const (
	StatusActive      = "active"
	StatusIdle        = "idle"
	StatusStale       = "stale"
	StatusAbandoned   = "abandoned"
	StatusNoHeartbeat = "no_heartbeat"
)

// SessionManager tracks which sessions exist and which are alive, and
// cascade-releases their locks at teardown.
type SessionManager struct {
	store  kv.Store
	sess   SessionContext
	locks  *LockManager
	cfg    config.Config
	logger zerolog.Logger
}

// NewSessionManager returns a session manager sharing the lock
// manager's store and identity.
func NewSessionManager(store kv.Store, sess SessionContext, locks *LockManager, cfg config.Config) *SessionManager {
	return &SessionManager{
		store:  store,
		sess:   sess,
		locks:  locks,
		cfg:    cfg,
		logger: log.WithComponent("sessions"),
	}
}

// RegisterResult reports a successful registration.
type RegisterResult struct {
	Success      bool   `json:"success"`
	SessionID    string `json:"session_id"`
	RegisteredAt string `json:"registered_at"`
}

// HeartbeatResult reports a recorded heartbeat.
type HeartbeatResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// SessionEntry is one session in a status enumeration.
type SessionEntry struct {
	SessionID           string            `json:"session_id"`
	IsMe                bool              `json:"is_me"`
	Status              string            `json:"status"`
	Worktree            string            `json:"worktree,omitempty"`
	StartedAt           string            `json:"started_at,omitempty"`
	HeartbeatAgeSeconds *float64          `json:"heartbeat_age_seconds"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// StatusResult lists all known sessions plus the caller's identity.
type StatusResult struct {
	MySession    string         `json:"my_session"`
	SessionCount int            `json:"session_count"`
	Sessions     []SessionEntry `json:"sessions"`
}

// UnregisterResult reports a teardown and the locks it freed.
type UnregisterResult struct {
	Success       bool     `json:"success"`
	SessionID     string   `json:"session_id"`
	ReleasedLocks []string `json:"released_locks"`
}

func (m *SessionManager) sessionKey() string {
	return SessionPrefix + ":" + m.sess.SessionID
}

func (m *SessionManager) heartbeatKey() string {
	return HeartbeatPrefix + ":" + m.sess.SessionID
}

// Register creates this session's record (no TTL) and its heartbeat
// peer (heartbeat TTL).
func (m *SessionManager) Register(ctx context.Context, metadata map[string]string) (RegisterResult, error) {
	now := m.sess.Now()
	if metadata == nil {
		metadata = map[string]string{}
	}
	rec := SessionRecord{
		SessionID: m.sess.SessionID,
		StartedAt: formatTime(now),
		Worktree:  m.sess.Worktree,
		Status:    StatusActive,
		Metadata:  metadata,
	}

	if err := m.store.Put(ctx, m.sessionKey(), encode(rec), 0); err != nil {
		metrics.RecordBackendError()
		return RegisterResult{}, err
	}
	if err := m.store.Put(ctx, m.heartbeatKey(), formatTime(now), m.cfg.HeartbeatTTL); err != nil {
		metrics.RecordBackendError()
		return RegisterResult{}, err
	}

	m.logger.Info().Str("session", m.sess.SessionID).Msg("session registered")
	return RegisterResult{
		Success:      true,
		SessionID:    m.sess.SessionID,
		RegisteredAt: formatTime(now),
	}, nil
}

// Heartbeat refreshes this session's heartbeat key. The session-record
// refresh is best effort: the heartbeat key is the authoritative
// liveness signal, so a failed or missing record read is skipped.
func (m *SessionManager) Heartbeat(ctx context.Context) (HeartbeatResult, error) {
	now := m.sess.Now()

	if err := m.store.Put(ctx, m.heartbeatKey(), formatTime(now), m.cfg.HeartbeatTTL); err != nil {
		metrics.RecordBackendError()
		return HeartbeatResult{}, err
	}
	metrics.RecordHeartbeat()

	raw, found, err := m.store.Get(ctx, m.sessionKey())
	if err == nil && found {
		if rec, derr := decodeSessionRecord(m.sessionKey(), raw); derr == nil {
			rec.Status = StatusActive
			rec.LastHeartbeat = formatTime(now)
			if perr := m.store.Put(ctx, m.sessionKey(), encode(rec), 0); perr != nil {
				m.logger.Debug().Err(perr).Msg("session record refresh skipped")
			}
		} else {
			m.logger.Debug().Err(derr).Msg("session record refresh skipped")
		}
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("session record refresh skipped")
	}

	return HeartbeatResult{
		Success:   true,
		SessionID: m.sess.SessionID,
		Timestamp: formatTime(now),
	}, nil
}

// classify maps heartbeat age to a staleness tier. Ages past the stale
// threshold are abandoned; the configured abandoned threshold only
// orders the tier boundaries.
func (m *SessionManager) classify(age time.Duration) string {
	switch {
	case age < m.cfg.ActiveThreshold:
		return StatusActive
	case age < m.cfg.IdleThreshold:
		return StatusIdle
	case age < m.cfg.StaleThreshold:
		return StatusStale
	default:
		return StatusAbandoned
	}
}

// Status enumerates every registered session and classifies it from
// heartbeat age at read time.
func (m *SessionManager) Status(ctx context.Context) (StatusResult, error) {
	keys, err := m.store.Scan(ctx, SessionPrefix+":*")
	if err != nil {
		metrics.RecordBackendError()
		return StatusResult{}, err
	}

	now := m.sess.Now()
	sessions := make([]SessionEntry, 0, len(keys))
	byStatus := map[string]int{}

	for _, key := range keys {
		raw, found, err := m.store.Get(ctx, key)
		if err != nil {
			metrics.RecordBackendError()
			return StatusResult{}, err
		}
		if !found {
			// Unregistered between scan and read.
			continue
		}
		rec, err := decodeSessionRecord(key, raw)
		if err != nil {
			m.logger.Debug().Str("key", key).Err(err).Msg("skipping undecodable session entry")
			continue
		}

		entry := SessionEntry{
			SessionID: rec.SessionID,
			IsMe:      rec.SessionID == m.sess.SessionID,
			Worktree:  rec.Worktree,
			StartedAt: rec.StartedAt,
			Metadata:  rec.Metadata,
		}

		hb, hbFound, err := m.store.Get(ctx, HeartbeatPrefix+":"+rec.SessionID)
		if err != nil {
			metrics.RecordBackendError()
			return StatusResult{}, err
		}
		if hbFound {
			if hbTime, perr := parseTime(hb); perr == nil {
				age := now.Sub(hbTime)
				secs := age.Seconds()
				entry.HeartbeatAgeSeconds = &secs
				entry.Status = m.classify(age)
			} else {
				m.logger.Debug().Str("session", rec.SessionID).Err(perr).Msg("unparseable heartbeat timestamp")
				entry.Status = StatusNoHeartbeat
			}
		} else {
			entry.Status = StatusNoHeartbeat
		}

		byStatus[entry.Status]++
		sessions = append(sessions, entry)
	}

	metrics.SetSessionsKnown(byStatus)
	return StatusResult{
		MySession:    m.sess.SessionID,
		SessionCount: len(sessions),
		Sessions:     sessions,
	}, nil
}

// Unregister releases every lock this session holds, then removes its
// session and heartbeat records. Lock release happens first so a crash
// mid-teardown never leaves locks owned by a vanished session record.
func (m *SessionManager) Unregister(ctx context.Context) (UnregisterResult, error) {
	released, err := m.locks.ReleaseAllOwned(ctx, m.sess.SessionID)
	if err != nil {
		return UnregisterResult{}, err
	}

	if err := m.store.Delete(ctx, m.sessionKey()); err != nil {
		metrics.RecordBackendError()
		return UnregisterResult{}, err
	}
	if err := m.store.Delete(ctx, m.heartbeatKey()); err != nil {
		metrics.RecordBackendError()
		return UnregisterResult{}, err
	}

	m.logger.Info().
		Str("session", m.sess.SessionID).
		Int("released_locks", len(released)).
		Msg("session unregistered")
	return UnregisterResult{
		Success:       true,
		SessionID:     m.sess.SessionID,
		ReleasedLocks: released,
	}, nil
}
