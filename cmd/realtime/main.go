package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/codecollab/realtime/internal/db"
	"github.com/codecollab/realtime/internal/server"
	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/internal/store/memory"
	"github.com/codecollab/realtime/internal/store/postgres"
	"github.com/codecollab/realtime/pkg/config"
	"github.com/codecollab/realtime/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelDebug)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var stores store.Stores
	if cfg.Database.URL != "" {
		sqlDB, err := db.Open(cfg.Database.URL)
		if err != nil {
			logger.Error("Failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		defer sqlDB.Close()
		stores = postgres.New(sqlDB).Stores()
		logger.Info("Using Postgres-backed stores")
	} else {
		stores = memory.New().Stores()
		logger.Warn("No database configured; using in-memory stores")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, stores)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
