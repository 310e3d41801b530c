package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"village_backend/internal/app"
	"village_backend/internal/config"
	"village_backend/internal/http/middleware"
	"village_backend/internal/logger"
	"village_backend/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTELEndpoint, cfg.ServiceName)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer store.Close()

	a := app.New(cfg, store)
	a.RunWorkers(ctx)

	middleware.InitRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: a.Router(),
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "version", cfg.AppVersion)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("server exited")
}
