package throttle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oggyb/anon-relay/internal/cache"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/session"
)

// RedisGuard keeps windows in Redis sorted sets so several relay processes
// share one budget per user. Redis failures fail open.
type RedisGuard struct {
	cfg   Config
	cache *cache.RedisCache
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(cfg Config, c *cache.RedisCache) *RedisGuard {
	return &RedisGuard{cfg: cfg.normalized(), cache: c}
}

func (g *RedisGuard) Check(ctx context.Context, id session.UserID, now time.Time) (Decision, error) {
	ok, err := g.cache.AdmitSliding(ctx, g.cache.KeyForThrottle(id), now, g.cfg.Window, g.cfg.MaxActions, uuid.NewString())
	if err != nil {
		logger.Warn("throttle check failed, allowing", logger.UserAttr(id), "err", err)
		return Allowed, nil
	}
	if !ok {
		return Throttled, nil
	}
	return Allowed, nil
}
