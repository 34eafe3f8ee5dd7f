package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"image-cache-service/internal/api"
	"image-cache-service/internal/config"
	"image-cache-service/internal/library"
	"image-cache-service/internal/queue"
	"image-cache-service/internal/ratelimit"
	"image-cache-service/internal/recovery"
	"image-cache-service/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	lib := library.New(st.Pool())
	q := queue.New(cfg)

	executor := recovery.NewExecutor(st, lib, q, logger)
	coordinator := recovery.NewCoordinator(st, executor, logger, cfg.ResumeTimeout)

	// Resume whatever a previous process left behind before taking traffic.
	if cfg.RecoverOnStartup {
		if result, err := coordinator.RecoverIncompleteJobs(ctx); err != nil {
			logger.Warn("startup recovery pass failed, will retry next boot", "error", err)
		} else {
			logger.Info("startup recovery pass done",
				"recovered", result.Recovered, "failed", result.Failed)
		}
	}

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, lib, q, coordinator, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
