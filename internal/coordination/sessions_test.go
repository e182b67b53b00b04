package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_WritesSessionAndHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	res, err := sm.Register(ctx, map[string]string{"task": "review"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "A", res.SessionID)
	assert.NotEmpty(t, res.RegisteredAt)

	// Session record persists without TTL, heartbeat carries one.
	assert.True(t, env.mr.Exists("claude:sessions:A"))
	assert.True(t, env.mr.Exists("claude:heartbeat:A"))
	assert.Equal(t, time.Duration(0), env.mr.TTL("claude:sessions:A"))
	assert.Equal(t, 300*time.Second, env.mr.TTL("claude:heartbeat:A"))
}

func TestStatus_FreshRegistrationIsActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	_, err := sm.Register(ctx, nil)
	require.NoError(t, err)

	status, err := sm.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", status.MySession)
	require.Equal(t, 1, status.SessionCount)

	entry := status.Sessions[0]
	assert.Equal(t, "A", entry.SessionID)
	assert.True(t, entry.IsMe)
	assert.Equal(t, StatusActive, entry.Status)
	assert.Equal(t, "/work/a", entry.Worktree)
	require.NotNil(t, entry.HeartbeatAgeSeconds)
	assert.Equal(t, float64(0), *entry.HeartbeatAgeSeconds)
	assert.Equal(t, map[string]string{}, entry.Metadata)
}

func TestStatus_Tiers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	_, err := sm.Register(ctx, nil)
	require.NoError(t, err)
	_, err = sm.Heartbeat(ctx)
	require.NoError(t, err)

	tierOf := func() string {
		t.Helper()
		status, err := sm.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, status.SessionCount)
		return status.Sessions[0].Status
	}

	// Advance only the injected clock; the heartbeat key stays in the
	// backend so the tier is purely a function of its age.
	env.clock.Advance(10 * time.Minute)
	assert.Equal(t, StatusIdle, tierOf())

	env.clock.Advance(110 * time.Minute) // total 2h
	assert.Equal(t, StatusStale, tierOf())

	env.clock.Advance(3 * time.Hour) // total 5h
	assert.Equal(t, StatusAbandoned, tierOf())

	env.mr.Del("claude:heartbeat:A")
	assert.Equal(t, StatusNoHeartbeat, tierOf())
}

func TestHeartbeat_RefreshesTTLAndRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	_, err := sm.Register(ctx, nil)
	require.NoError(t, err)

	env.mr.FastForward(200 * time.Second)
	env.clock.Advance(200 * time.Second)

	hb, err := sm.Heartbeat(ctx)
	require.NoError(t, err)
	assert.True(t, hb.Success)
	assert.Equal(t, formatTime(env.clock.Now()), hb.Timestamp)

	// TTL restored to the full heartbeat window.
	assert.Equal(t, 300*time.Second, env.mr.TTL("claude:heartbeat:A"))

	// Best-effort record refresh recorded the heartbeat.
	raw, found, err := env.store.Get(ctx, "claude:sessions:A")
	require.NoError(t, err)
	require.True(t, found)
	rec, err := decodeSessionRecord("claude:sessions:A", raw)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, hb.Timestamp, rec.LastHeartbeat)
}

func TestHeartbeat_SurvivesMissingSessionRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	// Heartbeat without a prior register: the heartbeat write is the
	// authoritative signal and must still succeed.
	hb, err := sm.Heartbeat(ctx)
	require.NoError(t, err)
	assert.True(t, hb.Success)
	assert.True(t, env.mr.Exists("claude:heartbeat:A"))
	assert.False(t, env.mr.Exists("claude:sessions:A"))
}

func TestHeartbeat_ExpiryYieldsNoHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	_, err := sm.Register(ctx, nil)
	require.NoError(t, err)

	env.mr.FastForward(301 * time.Second)
	env.clock.Advance(301 * time.Second)

	status, err := sm.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.SessionCount)
	assert.Equal(t, StatusNoHeartbeat, status.Sessions[0].Status)
	assert.Nil(t, status.Sessions[0].HeartbeatAgeSeconds)
}

func TestUnregister_CascadeReleasesLocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	smA := env.sessionManager("A", "/work/a", "main")
	lmA := env.lockManager("A", "/work/a", "main")
	lmB := env.lockManager("B", "/work/b", "main")

	_, err := smA.Register(ctx, nil)
	require.NoError(t, err)

	_, err = lmA.Acquire(ctx, "pytest", time.Minute)
	require.NoError(t, err)
	_, err = lmA.Acquire(ctx, "issue:42", time.Minute)
	require.NoError(t, err)

	// A lock held by another session must survive the cascade.
	_, err = lmB.Acquire(ctx, "pr-create", time.Minute)
	require.NoError(t, err)

	res, err := smA.Unregister(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"resource:pytest", "issue:42"}, res.ReleasedLocks)

	assert.False(t, env.mr.Exists("claude:sessions:A"))
	assert.False(t, env.mr.Exists("claude:heartbeat:A"))

	list, err := lmB.List(ctx, "*")
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "resource:pr-create", list.Locks[0].Name)
}

func TestUnregister_NoLocksHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sm := env.sessionManager("A", "/work/a", "main")

	_, err := sm.Register(ctx, nil)
	require.NoError(t, err)

	res, err := sm.Unregister(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.ReleasedLocks)
}

func TestStatus_MultipleSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	smA := env.sessionManager("A", "/work/a", "main")
	smB := env.sessionManager("B", "/work/b", "main")

	_, err := smA.Register(ctx, nil)
	require.NoError(t, err)
	_, err = smB.Register(ctx, nil)
	require.NoError(t, err)

	status, err := smA.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.SessionCount)

	var mine int
	for _, s := range status.Sessions {
		if s.IsMe {
			mine++
			assert.Equal(t, "A", s.SessionID)
		}
	}
	assert.Equal(t, 1, mine)
}
