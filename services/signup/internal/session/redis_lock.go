package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "signup:lock:"
	lockRetry     = 25 * time.Millisecond
)

var ErrLockTimeout = errors.New("session lock not acquired")

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker serializes work on a session across every replica sharing the
// Redis workflow store.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker holds locks for at most ttl and waits up to wait to get
// one.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait}
}

// Lock blocks until the session lock is held, the wait runs out or ctx is
// done. The returned func releases it.
func (l *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := lockKeyPrefix + sessionID
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrLockTimeout, waitCtx.Err())
			}
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(lockRetry)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, waitCtx.Err())
		case <-timer.C:
		}
	}

	return func() { l.release(key, token) }, nil
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		logger.Warn("Failed to release session lock", "key", key, "error", err)
		return
	}
	if n == 0 {
		logger.Warn("Session lock expired before release", "key", key)
	}
}
