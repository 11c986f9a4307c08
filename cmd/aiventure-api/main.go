package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aiventure/internal/api"
	"aiventure/internal/auth"
	"aiventure/internal/config"
	"aiventure/internal/db"
	"aiventure/internal/game"
	"aiventure/internal/metrics"
	"aiventure/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	st := store.NewPostgres(pool, logger)
	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTL)
	registry := game.NewRegistry(logger)
	scheduler := game.NewScheduler(st, registry, logger, collector, cfg.IncomeTickEvery)

	server := api.New(cfg, logger, authSvc, st, registry, collector, promReg)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedulerErr := make(chan error, 1)
	go func() {
		schedulerErr <- scheduler.Run(ctx)
	}()

	go func() {
		var fatal bool
		select {
		case <-ctx.Done():
		case err := <-schedulerErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("income scheduler failed", "err", err)
				fatal = true
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if fatal {
			os.Exit(1)
		}
	}()

	logger.Info("aiventure api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
