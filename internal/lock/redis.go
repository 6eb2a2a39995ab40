package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrTimeout = errors.New("lock: timed out waiting for lock")

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another node is never released by us.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// MaxWait bounds how long Lock waits before returning ErrTimeout.
	MaxWait time.Duration
	Retry   time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	out := o
	if out.Prefix == "" {
		out.Prefix = "calls:lock:"
	}
	if out.TTL <= 0 {
		out.TTL = 10 * time.Second
	}
	if out.MaxWait <= 0 {
		out.MaxWait = 5 * time.Second
	}
	if out.Retry <= 0 {
		out.Retry = 25 * time.Millisecond
	}
	return out
}

// Redis is a keyed lock shared by every node using the same Redis.
type Redis struct {
	rdb  *redis.Client
	opts RedisOptions
}

func NewRedis(rdb *redis.Client, opts RedisOptions) *Redis {
	return &Redis{rdb: rdb, opts: opts.withDefaults()}
}

type heldKey struct {
	key   string
	token string
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.opts.MaxWait)
	defer cancel()

	held := make([]heldKey, 0, len(keys))
	for _, k := range normalize(keys) {
		h, err := r.acquire(waitCtx, r.opts.Prefix+k)
		if err != nil {
			r.release(held)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, ErrTimeout
			}
			return nil, err
		}
		held = append(held, h)
	}

	var once sync.Once
	return func() { once.Do(func() { r.release(held) }) }, nil
}

func (r *Redis) acquire(ctx context.Context, key string) (heldKey, error) {
	token := uuid.NewString()
	t := time.NewTicker(r.opts.Retry)
	defer t.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.opts.TTL).Result()
		if err != nil {
			return heldKey{}, err
		}
		if ok {
			return heldKey{key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return heldKey{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Redis) release(held []heldKey) {
	if len(held) == 0 {
		return
	}
	// Release must run even when the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range held {
		_ = releaseScript.Run(ctx, r.rdb, []string{h.key}, h.token).Err()
	}
}
