package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned by TryLock when the key is owned by another run.
var ErrLockHeld = errors.New("lock is held by another run")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(rdb *redis.Client, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb: rdb,
		log: log.With().Str("component", "evaluation_lock").Logger(),
	}
}

// TryLock acquires key for ttl without waiting.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.log.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}, nil
}
