package coordination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/devflow-tools/mcp-coordination/internal/config"
	"github.com/devflow-tools/mcp-coordination/internal/kv"
)

// fakeClock is an injectable clock for exercising TTL tiers without
// wall-clock waits.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() config.Config {
	return config.Config{
		DefaultLockTimeout: 300 * time.Second,
		MaxLockTimeout:     24 * time.Hour,
		HeartbeatTTL:       300 * time.Second,
		ActiveThreshold:    5 * time.Minute,
		IdleThreshold:      time.Hour,
		StaleThreshold:     4 * time.Hour,
		AbandonedThreshold: 24 * time.Hour,
	}
}

type testEnv struct {
	mr    *miniredis.Miniredis
	store kv.Store
	clock *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreWithClient(client, 2*time.Second)
	t.Cleanup(func() { _ = store.Close() })

	return &testEnv{mr: mr, store: store, clock: newFakeClock()}
}

// session builds a SessionContext bound to the shared fake clock and a
// fixed branch name.
func (e *testEnv) session(id, worktree, branch string) SessionContext {
	return SessionContext{
		SessionID: id,
		Worktree:  worktree,
		Now:       e.clock.Now,
		Branch:    staticBranch(branch),
	}
}

func (e *testEnv) lockManager(id, worktree, branch string) *LockManager {
	return NewLockManager(e.store, e.session(id, worktree, branch), testConfig().MaxLockTimeout)
}

func (e *testEnv) sessionManager(id, worktree, branch string) *SessionManager {
	lm := e.lockManager(id, worktree, branch)
	return NewSessionManager(e.store, e.session(id, worktree, branch), lm, testConfig())
}

func staticBranch(name string) func(context.Context) string {
	return func(context.Context) string { return name }
}
