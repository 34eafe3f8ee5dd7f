package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"image-cache-service/internal/config"
	"image-cache-service/internal/queue"
	"image-cache-service/internal/store"
	"image-cache-service/internal/telemetry"
	"image-cache-service/internal/worker"
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

	q := queue.New(cfg)

	renderer, err := worker.NewCacheRenderer(ctx, cfg)
	if err != nil {
		logger.Error("init renderer", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	processor := worker.NewProcessor(cfg, q, st, renderer, logger)
	logger.Info("worker started",
		"visibility", cfg.VisibilityTimeout.String(),
		"poll_interval", cfg.WorkerPollInterval.String())
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
	}
}
