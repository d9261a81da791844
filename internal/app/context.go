package app

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"

	"github.com/oggyb/anon-relay/internal/cache"
	"github.com/oggyb/anon-relay/internal/config"
	"github.com/oggyb/anon-relay/internal/metrics"
)

// AppContext holds shared dependencies (config, DB, Redis, logger, clock, metrics).
type AppContext struct {
	Config *config.Config
	DB     *gorm.DB
	// RedisCache is nil when no Redis address is configured.
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

// New creates a new AppContext running on wall-clock time.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger, m *metrics.Metrics) *AppContext {
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Clock:      clock.New(),
		Metrics:    m,
	}
}
