package health

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/devflow-tools/mcp-coordination/internal/kv"
)

func newStore(t *testing.T) (*miniredis.Miniredis, kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreWithClient(client, 2*time.Second)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestHealth_AlwaysHealthy(t *testing.T) {
	m := NewManager("test")

	resp := m.Health(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("expected version test, got %s", resp.Version)
	}
}

func TestReady_ReflectsStore(t *testing.T) {
	mr, store := newStore(t)
	m := NewManager("test")
	m.RegisterChecker(StoreChecker{Store: store})

	resp := m.Ready(context.Background())
	if !resp.Ready {
		t.Fatalf("expected ready, got %+v", resp)
	}

	mr.Close()

	resp = m.Ready(context.Background())
	if resp.Ready {
		t.Fatal("expected not ready after backend shutdown")
	}
	if resp.Checks["redis"].Status != StatusUnhealthy {
		t.Errorf("expected redis check unhealthy, got %+v", resp.Checks["redis"])
	}
}

func TestReady_NoCheckers(t *testing.T) {
	m := NewManager("test")
	if resp := m.Ready(context.Background()); !resp.Ready {
		t.Error("expected ready with no checkers registered")
	}
}

func TestServeEndpoints(t *testing.T) {
	mr, store := newStore(t)
	m := NewManager("test")
	m.RegisterChecker(StoreChecker{Store: store})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Errorf("readyz: expected 200, got %d", rec.Code)
	}

	mr.Close()

	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Errorf("readyz: expected 503 after backend shutdown, got %d", rec.Code)
	}
}
