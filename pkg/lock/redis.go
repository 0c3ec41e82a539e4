package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL          = 2 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance connected to the same Redis.
// Keys expire after TTL so a crashed holder cannot wedge an automation forever.
type RedisLocker struct {
	Client       redis.UniversalClient
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		Client:       client,
		Prefix:       "automation-lock:",
		TTL:          ttl,
		PollInterval: defaultPollInterval,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// the caller's context may already be done; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.Client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			zap.L().Warn("Failed to release redis lock", zap.String("key", redisKey), zap.Error(err))
		}
	}, nil
}

// NewRedisClient connects to Redis, retrying the initial ping a few times.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	log := zap.L().With(zap.String("addr", addr), zap.Int("db", db))

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	var err error
	for i := 0; i < 5; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			log.Info("[Redis] Connected to Redis")
			return rdb, nil
		}
		log.Warn("[Redis] Redis not ready, retrying in 3 seconds...", zap.Int("retry", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("redis at %s unreachable: %w", addr, err)
}
