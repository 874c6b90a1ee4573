package redis_session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/wayfarer/models"
	redis_session "github.com/mohammad-safakhou/wayfarer/session/redis"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis_session.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client, err := redis_session.Conn(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0, 5*time.Second)
	if err != nil {
		t.Fatalf("redis conn: %v", err)
	}
	st := redis_session.NewRedisSessionStore(client, "test", 0)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedisStoreLifecycle(t *testing.T) {
	st := startRedis(t)
	ctx := context.Background()

	cp, err := st.Create(ctx, session_models.Checkpoint{
		SessionID: "sess-1",
		Stage:     session_models.StagePlanning,
		State:     models.NewPipelineState("3 days in Rio"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.Create(ctx, cp); !errors.Is(err, session_models.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	stale := cp
	cp.Stage = session_models.StageAwaitingApproval
	_ = cp.State.SetSearchStrategy(models.SearchStrategy{Reasoning: "r", Queries: []string{"q1"}})
	saved, err := st.Save(ctx, cp)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", saved.Revision)
	}
	stale.Stage = session_models.StageFailed
	if _, err := st.Save(ctx, stale); !errors.Is(err, session_models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	loaded, err := st.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Stage != session_models.StageAwaitingApproval || loaded.State.SearchStrategy.Queries[0] != "q1" {
		t.Fatalf("unexpected checkpoint: %+v", loaded)
	}

	list, err := st.List(ctx, session_models.StageAwaitingApproval)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 awaiting session, got %d", len(list))
	}

	if _, err := st.Load(ctx, "nope"); !errors.Is(err, session_models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConnUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := redis_session.Conn(ctx, "127.0.0.1:1", "", 0, 200*time.Millisecond)
	if err == nil {
		_ = client.Close()
		t.Fatalf("expected dial error")
	}
	if client != nil {
		t.Fatalf("client must be nil on failure")
	}
}
