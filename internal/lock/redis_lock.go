package lock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"barpos/backend/internal/xid"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes SET NX locks so several server processes sharing one
// database serialize stock writes per product.
type RedisLocker struct {
	client     *redis.Client
	logger     *zap.Logger
	prefix     string
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:     client,
		logger:     logger,
		prefix:     "barpos:lock:",
		ttl:        ttl,
		retries:    20,
		retryDelay: 50 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	token := xid.Token()
	held := make([]string, 0, len(keys))

	for _, key := range keys {
		if err := l.acquire(ctx, l.prefix+key, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, l.prefix+key)
	}

	return func() { l.release(held, token) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key string, token string) error {
	for attempt := 0; attempt <= l.retries; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.logger.Error("failed to acquire lock", zap.String("key", key), zap.Error(err))
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	l.logger.Warn("lock still held after retries", zap.String("key", key), zap.Int("retries", l.retries))
	return ErrBusy
}

func (l *RedisLocker) release(keys []string, token string) {
	// Release must run even when the request context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, l.client, []string{keys[i]}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", keys[i]), zap.Error(err))
		}
	}
}
