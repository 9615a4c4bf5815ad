package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairshare-app/fairshare/internal/config"
	"github.com/fairshare-app/fairshare/internal/db"
	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/export"
	"github.com/fairshare-app/fairshare/internal/history"
	"github.com/fairshare-app/fairshare/internal/repository"
	"github.com/fairshare-app/fairshare/internal/server"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := db.RunMigrations(cfg.Database, cfg.MigrationsPath); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	registry, err := domain.NewRegistry(versioning.Options{})
	if err != nil {
		logger.Error("failed to build entity registry", "error", err)
		os.Exit(1)
	}

	historyRepo := repository.NewHistoryRepository(conn.Pool)
	historyService := history.NewService(historyRepo, logger)
	exportHandler := export.NewHTTPHandler(export.NewService(historyService))

	api := server.New(conn.Pool, registry, historyService, exportHandler, cfg.Server.AllowedOrigins, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
