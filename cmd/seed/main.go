package main

import (
	"os"
	"time"

	"github.com/oggyb/anon-relay/internal/config"
	"github.com/oggyb/anon-relay/internal/db"
	"github.com/oggyb/anon-relay/internal/logger"
)

func main() {
	// Load configuration
	cfg := config.New()
	logger.InitFromConfig(cfg)

	database, err := db.NewDB(cfg)
	if err != nil {
		logger.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	if err := db.SeedDemoData(database, time.Now().UTC()); err != nil {
		logger.Error("failed to seed", "err", err)
		os.Exit(1)
	}

	logger.Info("seeding completed", "path", cfg.DB.Path, "driver", cfg.DB.Driver)
}
