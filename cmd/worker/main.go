package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stashd/filevault/pkg/filevault/config"
	"github.com/stashd/filevault/pkg/filevault/queue"
)

// Standalone worker deployment: consumes the same job queue as the API
// server without serving HTTP. Requires a shared queue (NATS) and a shared
// repository (Postgres) to be useful across processes.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.QueueType == "memory" {
		logger.Warn("memory queue is process-local; this worker will only see its own jobs")
	}

	svc, jobQueue, err := cfg.BuildService()
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	pool := queue.NewPool(jobQueue, svc, queue.WithConcurrency(cfg.WorkerConcurrency), queue.WithLogger(logger))
	if err := pool.Start(context.Background()); err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}
	logger.Info("worker started", "queue", cfg.QueueType, "workers", cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	pool.Wait()
	logger.Info("worker stopped")
}
