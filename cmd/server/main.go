package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/stashd/filevault/internal/api"
	"github.com/stashd/filevault/pkg/filevault/config"
	"github.com/stashd/filevault/pkg/filevault/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	svc, jobQueue, err := cfg.BuildService()
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	// Background workers share the process with the API server. A dedicated
	// worker deployment would run the same pool against the same queue.
	pool := queue.NewPool(jobQueue, svc, queue.WithConcurrency(cfg.WorkerConcurrency), queue.WithLogger(logger))
	if err := pool.Start(context.Background()); err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/files", api.NewFilesHandler(svc, logger).Routes())
		r.Mount("/tenants", api.NewTenantsHandler(svc, logger).Routes())
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"default_storage", cfg.DefaultStorageBackend,
			"queue", cfg.QueueType,
			"workers", cfg.WorkerConcurrency)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}

	// Let in-flight jobs finish before the queue closes.
	pool.Wait()
	logger.Info("server stopped")
}
