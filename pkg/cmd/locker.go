package cmd

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mercato/mercato/pkg/lock"
)

// NewLocker creates the per-transaction locker. A redis:// URL selects the
// distributed locker, an empty URL the in-process one.
func NewLocker(redisURL string, logger *slog.Logger) (lock.TransactionLocker, error) {
	if redisURL == "" {
		return lock.NewMemoryLocker(), nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return lock.NewRedisLocker(redis.NewClient(options), logger), nil
}
