package taskstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/you-humble/musicgen/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Set MUSICGEN_TEST_REDIS_ADDR (and MUSICGEN_TEST_NATS_URL for the fanout
// test) to run these against live servers.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("MUSICGEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MUSICGEN_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedis_TerminalIsSticky(t *testing.T) {
	ctx := context.Background()
	s := NewRedisTaskStore(testRedis(t), time.Minute, nil)
	id := "test-" + uuid.NewString()

	if ok, err := s.Set(ctx, result(id, domain.StatusProcessing, "40%")); !ok || err != nil {
		t.Fatalf("Set = (%v, %v)", ok, err)
	}
	if ok, err := s.Set(ctx, result(id, domain.StatusSuccess, "100%")); !ok || err != nil {
		t.Fatalf("terminal Set = (%v, %v)", ok, err)
	}
	if ok, err := s.Set(ctx, result(id, domain.StatusFailure, "")); ok || err != nil {
		t.Fatalf("overwrite Set = (%v, %v)", ok, err)
	}

	got, ok, err := s.Get(ctx, id)
	if err != nil || !ok || got.Status != domain.StatusSuccess || got.Progress != "100%" {
		t.Fatalf("Get = (%+v, %v, %v)", got, ok, err)
	}

	n, err := s.Evict(ctx, time.Now().Add(time.Minute))
	if err != nil || n < 1 {
		t.Fatalf("Evict = (%d, %v)", n, err)
	}
	if _, ok, _ := s.Get(ctx, id); ok {
		t.Fatalf("task must be evicted")
	}
}

func TestRedis_SubscribeSeesLocalWrites(t *testing.T) {
	ctx := context.Background()
	s := NewRedisTaskStore(testRedis(t), time.Minute, nil)
	id := "test-" + uuid.NewString()
	rec := newRecorder()

	cancel, err := s.Subscribe(ctx, id, rec.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	_, _ = s.Set(ctx, result(id, domain.StatusProcessing, "10%"))
	_, _ = s.Set(ctx, result(id, domain.StatusSuccess, "100%"))

	if got := rec.next(t); got.Progress != "10%" {
		t.Fatalf("got %+v", got)
	}
	if got := rec.next(t); got.Status != domain.StatusSuccess {
		t.Fatalf("got %+v", got)
	}
}
