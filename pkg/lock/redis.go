package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL       = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker coordinates transaction ownership across engine instances with
// SET NX and a per-holder token.
type RedisLocker struct {
	client        *redis.Client
	logger        *slog.Logger
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:        client,
		logger:        logger,
		ttl:           defaultLockTTL,
		retryInterval: defaultRetryInterval,
	}
}

// Acquire polls SET NX until the lock is taken or the context is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Releaser, error) {
	token := uuid.New().String()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}

		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	if err != nil && err != redis.Nil {
		l.logger.Error("Failed to release transaction lock", "key", key, "error", err)
	}
}
