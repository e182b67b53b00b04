package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/devflow-tools/mcp-coordination/internal/kv"
	"github.com/devflow-tools/mcp-coordination/internal/log"
	"github.com/devflow-tools/mcp-coordination/internal/metrics"
)

// LockManager implements distributed mutual exclusion with leases. It
// is stateless; all shared state lives in the backing store, and the
// only cross-client synchronization primitive is the atomic
// set-if-absent.
type LockManager struct {
	store      kv.Store
	sess       SessionContext
	maxTimeout time.Duration
	logger     zerolog.Logger
}

// NewLockManager returns a lock manager bound to the given store and
// session identity. maxTimeout bounds requested lock TTLs.
func NewLockManager(store kv.Store, sess SessionContext, maxTimeout time.Duration) *LockManager {
	return &LockManager{
		store:      store,
		sess:       sess,
		maxTimeout: maxTimeout,
		logger:     log.WithComponent("locks"),
	}
}

// AcquireResult reports the outcome of an acquisition attempt. On
// failure the holder's metadata is included so callers can decide how
// to proceed.
type AcquireResult struct {
	Success   bool   `json:"success"`
	LockName  string `json:"lock_name"`
	Key       string `json:"key,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Extended  bool   `json:"extended,omitempty"`

	Reason     string `json:"reason,omitempty"`
	Holder     string `json:"holder,omitempty"`
	Worktree   string `json:"worktree,omitempty"`
	AcquiredAt string `json:"acquired_at,omitempty"`
}

// ReleaseResult reports the outcome of a release attempt.
type ReleaseResult struct {
	Success  bool   `json:"success"`
	LockName string `json:"lock_name"`
	Reason   string `json:"reason,omitempty"`
	Holder   string `json:"holder,omitempty"`
}

// CheckResult reports current lock state without mutating it.
type CheckResult struct {
	Available  bool   `json:"available"`
	LockName   string `json:"lock_name"`
	Holder     string `json:"holder,omitempty"`
	IsMine     bool   `json:"is_mine,omitempty"`
	Worktree   string `json:"worktree,omitempty"`
	AcquiredAt string `json:"acquired_at,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// LockEntry is one decoded lock in a listing.
type LockEntry struct {
	Name       string `json:"name"`
	HeldBy     string `json:"held_by"`
	IsMine     bool   `json:"is_mine"`
	Worktree   string `json:"worktree,omitempty"`
	AcquiredAt string `json:"acquired_at,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// LockList is the result of a pattern listing.
type LockList struct {
	Count   int         `json:"count"`
	Pattern string      `json:"pattern"`
	Locks   []LockEntry `json:"locks"`
}

// resolveToken maps a user token to its canonical form, expanding the
// special "work" token from the current branch.
func (m *LockManager) resolveToken(ctx context.Context, token string) (string, error) {
	if token == "work" {
		bc := ParseBranchContext(m.sess.Branch(ctx))
		if bc.Kind == KindUnknown {
			return "", fmt.Errorf("cannot detect lock scope from branch: %w", ErrInvalidArgument)
		}
		token = bc.Token()
	}
	if token == "" {
		return "", fmt.Errorf("empty lock name: %w", ErrInvalidArgument)
	}
	return token, nil
}

// Acquire takes or extends a lease on the named lock. Re-acquiring a
// lock this session already holds refreshes the TTL and expires_at but
// preserves acquired_at.
func (m *LockManager) Acquire(ctx context.Context, token string, ttl time.Duration) (AcquireResult, error) {
	if ttl <= 0 {
		return AcquireResult{}, fmt.Errorf("timeout %s must be positive: %w", ttl, ErrInvalidArgument)
	}
	if m.maxTimeout > 0 && ttl > m.maxTimeout {
		return AcquireResult{}, fmt.Errorf("timeout %s exceeds maximum %s: %w", ttl, m.maxTimeout, ErrInvalidArgument)
	}

	token, err := m.resolveToken(ctx, token)
	if err != nil {
		return AcquireResult{}, err
	}
	key := LockKey(token)

	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		metrics.RecordBackendError()
		return AcquireResult{}, err
	}
	if found {
		rec, err := decodeLockRecord(key, raw)
		if err != nil {
			m.logger.Error().Str("key", key).Err(err).Msg("undecodable lock record")
			return AcquireResult{}, err
		}
		if rec.SessionID == m.sess.SessionID {
			// Extend our own lease. acquired_at and worktree stay as
			// they were; a single write-with-ttl refreshes both record
			// and expiry atomically.
			rec.ExpiresAt = formatTime(m.sess.Now().Add(ttl))
			if err := m.store.Put(ctx, key, encode(rec), ttl); err != nil {
				metrics.RecordBackendError()
				return AcquireResult{}, err
			}
			m.logger.Debug().Str("lock", token).Dur("ttl", ttl).Msg("lock extended")
			metrics.RecordAcquire("extended")
			return AcquireResult{
				Success:   true,
				LockName:  token,
				Key:       key,
				ExpiresAt: rec.ExpiresAt,
				Extended:  true,
			}, nil
		}
		metrics.RecordAcquire(ReasonLockHeld)
		return AcquireResult{
			Success:    false,
			LockName:   token,
			Reason:     ReasonLockHeld,
			Holder:     rec.SessionID,
			Worktree:   rec.Worktree,
			AcquiredAt: rec.AcquiredAt,
			ExpiresAt:  rec.ExpiresAt,
		}, nil
	}

	now := m.sess.Now()
	rec := LockRecord{
		SessionID:  m.sess.SessionID,
		AcquiredAt: formatTime(now),
		ExpiresAt:  formatTime(now.Add(ttl)),
		Worktree:   m.sess.Worktree,
	}

	acquired, err := m.store.PutIfAbsent(ctx, key, encode(rec), ttl)
	if err != nil {
		metrics.RecordBackendError()
		return AcquireResult{}, err
	}
	if acquired {
		m.logger.Info().Str("lock", token).Dur("ttl", ttl).Msg("lock acquired")
		metrics.RecordAcquire("acquired")
		return AcquireResult{
			Success:   true,
			LockName:  token,
			Key:       key,
			ExpiresAt: rec.ExpiresAt,
		}, nil
	}

	// A concurrent acquirer won the race; report the new owner when the
	// re-read finds one.
	raw, found, err = m.store.Get(ctx, key)
	if err != nil {
		metrics.RecordBackendError()
		return AcquireResult{}, err
	}
	if found {
		if winner, err := decodeLockRecord(key, raw); err == nil {
			metrics.RecordAcquire(ReasonRaceCondition)
			return AcquireResult{
				Success:    false,
				LockName:   token,
				Reason:     ReasonRaceCondition,
				Holder:     winner.SessionID,
				Worktree:   winner.Worktree,
				AcquiredAt: winner.AcquiredAt,
				ExpiresAt:  winner.ExpiresAt,
			}, nil
		}
	}
	metrics.RecordAcquire(ReasonUnknown)
	return AcquireResult{Success: false, LockName: token, Reason: ReasonUnknown}, nil
}

// Release frees the named lock if this session owns it. The read then
// delete is not transactional: the benign race where the lease expires
// in between makes the delete a no-op.
func (m *LockManager) Release(ctx context.Context, token string) (ReleaseResult, error) {
	token, err := m.resolveToken(ctx, token)
	if err != nil {
		return ReleaseResult{}, err
	}
	key := LockKey(token)

	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		metrics.RecordBackendError()
		return ReleaseResult{}, err
	}
	if !found {
		metrics.RecordRelease(ReasonNotFound)
		return ReleaseResult{Success: false, LockName: token, Reason: ReasonNotFound}, nil
	}

	rec, err := decodeLockRecord(key, raw)
	if err != nil {
		m.logger.Error().Str("key", key).Err(err).Msg("undecodable lock record")
		return ReleaseResult{}, err
	}
	if rec.SessionID != m.sess.SessionID {
		metrics.RecordRelease(ReasonNotOwner)
		return ReleaseResult{
			Success:  false,
			LockName: token,
			Reason:   ReasonNotOwner,
			Holder:   rec.SessionID,
		}, nil
	}

	if err := m.store.Delete(ctx, key); err != nil {
		metrics.RecordBackendError()
		return ReleaseResult{}, err
	}
	m.logger.Info().Str("lock", token).Msg("lock released")
	metrics.RecordRelease("released")
	return ReleaseResult{Success: true, LockName: token}, nil
}

// Check reports whether the named lock is available.
func (m *LockManager) Check(ctx context.Context, token string) (CheckResult, error) {
	token, err := m.resolveToken(ctx, token)
	if err != nil {
		return CheckResult{}, err
	}
	key := LockKey(token)

	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		metrics.RecordBackendError()
		return CheckResult{}, err
	}
	if !found {
		return CheckResult{Available: true, LockName: token}, nil
	}

	rec, err := decodeLockRecord(key, raw)
	if err != nil {
		m.logger.Error().Str("key", key).Err(err).Msg("undecodable lock record")
		return CheckResult{}, err
	}
	return CheckResult{
		Available:  false,
		LockName:   token,
		Holder:     rec.SessionID,
		IsMine:     rec.SessionID == m.sess.SessionID,
		Worktree:   rec.Worktree,
		AcquiredAt: rec.AcquiredAt,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

// List enumerates locks matching a glob pattern. Entries that vanish
// between scan and read have expired and are skipped.
func (m *LockManager) List(ctx context.Context, pattern string) (LockList, error) {
	if pattern == "" {
		pattern = "*"
	}
	if err := ValidatePattern(pattern); err != nil {
		return LockList{}, err
	}

	keys, err := m.store.Scan(ctx, LockPrefix+":"+pattern)
	if err != nil {
		metrics.RecordBackendError()
		return LockList{}, err
	}

	locks := make([]LockEntry, 0, len(keys))
	for _, key := range keys {
		raw, found, err := m.store.Get(ctx, key)
		if err != nil || !found {
			if err != nil {
				m.logger.Debug().Str("key", key).Err(err).Msg("skipping unreadable lock entry")
			}
			continue
		}
		rec, err := decodeLockRecord(key, raw)
		if err != nil {
			m.logger.Debug().Str("key", key).Err(err).Msg("skipping undecodable lock entry")
			continue
		}
		locks = append(locks, LockEntry{
			Name:       LockName(key),
			HeldBy:     rec.SessionID,
			IsMine:     rec.SessionID == m.sess.SessionID,
			Worktree:   rec.Worktree,
			AcquiredAt: rec.AcquiredAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}

	return LockList{Count: len(locks), Pattern: pattern, Locks: locks}, nil
}

// ReleaseAllOwned deletes every lock held by the given session and
// returns the released lock names. Used by session teardown.
func (m *LockManager) ReleaseAllOwned(ctx context.Context, sessionID string) ([]string, error) {
	keys, err := m.store.Scan(ctx, LockPrefix+":*")
	if err != nil {
		metrics.RecordBackendError()
		return nil, err
	}

	released := []string{}
	for _, key := range keys {
		raw, found, err := m.store.Get(ctx, key)
		if err != nil {
			metrics.RecordBackendError()
			return released, err
		}
		if !found {
			continue
		}
		rec, err := decodeLockRecord(key, raw)
		if err != nil {
			m.logger.Debug().Str("key", key).Err(err).Msg("skipping undecodable lock entry")
			continue
		}
		if rec.SessionID != sessionID {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			metrics.RecordBackendError()
			return released, err
		}
		released = append(released, LockName(key))
	}
	return released, nil
}
