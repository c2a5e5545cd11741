// Package lock provides short-lived leases and idempotency records backed by
// Redis, with in-process fallbacks for single-instance deployments and tests.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const pendingMarker = "__pending__"

// NewRedisClient connects and pings. The caller owns Close.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisLocker implements port.Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client   redis.Cmdable
	prefix   string
	newToken func() string
}

// NewRedisLocker creates a locker. Keys are namespaced with "lock:".
func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock:", newToken: uuid.NewString}
}

// Acquire takes the lease if free.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	k := l.prefix + key
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("releasing lease %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

// RedisIdempotency implements port.IdempotencyStore.
type RedisIdempotency struct {
	client redis.Cmdable
	prefix string
}

// NewRedisIdempotency creates the store. Keys are namespaced with "idem:".
func NewRedisIdempotency(client redis.Cmdable) *RedisIdempotency {
	return &RedisIdempotency{client: client, prefix: "idem:"}
}

// Begin replays a finished response or reserves the key.
func (s *RedisIdempotency) Begin(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	k := s.prefix + key

	val, err := s.client.Get(ctx, k).Result()
	switch {
	case err == nil && val == pendingMarker:
		return nil, false, nil
	case err == nil:
		return []byte(val), false, nil
	case !errors.Is(err, redis.Nil):
		return nil, false, fmt.Errorf("reading idempotency key: %w", err)
	}

	ok, err := s.client.SetNX(ctx, k, pendingMarker, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserving idempotency key: %w", err)
	}
	return nil, ok, nil
}

// Complete stores the final payload.
func (s *RedisIdempotency) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("storing idempotent response: %w", err)
	}
	return nil
}

// Abort frees a reservation so the client may retry.
func (s *RedisIdempotency) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("dropping idempotency key: %w", err)
	}
	return nil
}
