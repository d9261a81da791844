package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oggyb/anon-relay/internal/config"
)

// slidingWindowScript admits an action when fewer than ARGV[3] members
// scored in [now-window, now] exist, recording it under ARGV[4].
//
//	KEYS[1]: window key
//	ARGV[1]: now (unix ms)
//	ARGV[2]: window (ms)
//	ARGV[3]: max actions
//	ARGV[4]: unique member
//
// Returns 1 when admitted, 0 otherwise. A rejected call writes nothing.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
if redis.call('ZCARD', key) >= limit then
    return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window + 1)
return 1
`

var slidingWindow = redis.NewScript(slidingWindowScript)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// KeyForThrottle generates the Redis key holding a user's action window.
func (c *RedisCache) KeyForThrottle(userID int64) string {
	return fmt.Sprintf("throttle:user:%d", userID)
}

// AdmitSliding runs the sliding window script for key. member must be
// unique per call so two actions in the same millisecond both count.
func (c *RedisCache) AdmitSliding(ctx context.Context, key string, now time.Time, window time.Duration, limit int, member string) (bool, error) {
	res, err := slidingWindow.Run(ctx, c.Client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// WindowSize returns how many actions are currently recorded under key.
func (c *RedisCache) WindowSize(ctx context.Context, key string) (int64, error) {
	return c.Client.ZCard(ctx, key).Result()
}
