package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLock(t *testing.T, opts RedisOptions) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, opts), mr
}

func TestRedis_LockAndRelease(t *testing.T) {
	l, mr := newRedisLock(t, RedisOptions{MaxWait: 100 * time.Millisecond, Retry: 5 * time.Millisecond})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "user:b", "user:a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("calls:lock:user:a") || !mr.Exists("calls:lock:user:b") {
		t.Fatalf("expected both keys held")
	}

	if _, err := l.Lock(ctx, "user:a"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout while held, got %v", err)
	}

	unlock()
	unlock()
	if mr.Exists("calls:lock:user:a") {
		t.Fatalf("expected key released")
	}

	unlock, err = l.Lock(ctx, "user:a")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLock(t, RedisOptions{})
	unlock, err := l.Lock(context.Background(), "call:1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// the lease expired and another holder took the key
	if err := mr.Set("calls:lock:call:1", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	unlock()

	if v, _ := mr.Get("calls:lock:call:1"); v != "someone-else" {
		t.Fatalf("release must not delete a key held by another token, got %q", v)
	}
}
