package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/oggyb/anon-relay/internal/app"
	"github.com/oggyb/anon-relay/internal/cache"
	"github.com/oggyb/anon-relay/internal/config"
	"github.com/oggyb/anon-relay/internal/db"
	"github.com/oggyb/anon-relay/internal/httpapi"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/metrics"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/server"
	"github.com/oggyb/anon-relay/internal/service/chat"
	"github.com/oggyb/anon-relay/internal/transport"
	"github.com/oggyb/anon-relay/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	if cfg.Admin.ChatIDInvalid != "" {
		log.Warn("ADMIN_CHAT_ID is not an integer, admin report notices are disabled", "value", cfg.Admin.ChatIDInvalid)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		return err
	}

	// Init Redis, only when configured
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewRedisCache(cfg)
		if err := redisCache.Ping(ctx); err != nil {
			return multierr.Append(err, closeAll(database, redisCache))
		}
	}
	defer func() {
		if err := closeAll(database, redisCache); err != nil {
			log.Warn("close failed", "err", err)
		}
	}()

	m := metrics.New()
	appCtx := app.New(cfg, database, redisCache, log, m)

	manager := ws.NewManager()
	sink := transport.NewLimitedSink(manager, cfg.Outbound.Rate, cfg.Outbound.Burst, cfg.Outbound.MaxRetries)
	svc := chat.NewService(appCtx, sink)

	health := server.NewHealth()
	defer health.Shutdown()

	if cfg.App.ENV == "development" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		WS:         ws.NewGateway(manager, svc).ServeWS,
		Status:     svc,
		Reports:    repository.NewReportRepository(database),
		Metrics:    m,
		AdminToken: cfg.Admin.Token,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting gRPC server", "addr", cfg.GRPC.Host+":"+cfg.GRPC.Port)
		return server.StartGRPCServer(gctx, cfg, health)
	})

	g.Go(func() error {
		log.Info("starting HTTP server", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// events are refused until the store has been reconciled
	g.Go(func() error {
		report, err := svc.Recover(gctx)
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		health.SetServing(true)
		log.Info("recovery finished",
			"normalized", report.Normalized,
			"repaired", report.Repaired,
			"requeued", report.Requeued,
		)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		health.SetServing(false)
		manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func closeAll(database *gorm.DB, redisCache *cache.RedisCache) error {
	var err error
	if sqlDB, dbErr := database.DB(); dbErr != nil {
		err = multierr.Append(err, dbErr)
	} else {
		err = multierr.Append(err, sqlDB.Close())
	}
	if redisCache != nil {
		err = multierr.Append(err, redisCache.Close())
	}
	return err
}
