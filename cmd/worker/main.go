// Package main provides the standalone generation worker. It polls the
// durable job registry for pending jobs and executes them, so generation can
// run separately from the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triviaapp/internal/config"
	"triviaapp/internal/di"
	"triviaapp/internal/models"
	"triviaapp/internal/observability"
)

// pollInterval controls how often the worker checks for pending jobs
const pollInterval = 2 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, otelShutdown, err := observability.SetupObservability(&cfg.OpenTelemetry, "trivia-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info(ctx, "Starting trivia generation worker", map[string]interface{}{
		"workers": cfg.Generation.Workers,
	})

	container := di.NewServiceContainer(cfg, logger)
	if err := container.Initialize(ctx, di.ContainerOptions{DurableJobs: true}); err != nil {
		logger.Error(ctx, "Failed to initialize services", err, nil)
		os.Exit(1)
	}
	container.Start(ctx)

	registry := container.GetJobRegistry()
	pool := container.GetPool()

	// Poll loop: hand pending jobs to the pool. A job enqueued twice is
	// harmless; the second claim loses the pending->running transition.
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jobs, err := registry.ListActive(ctx)
				if err != nil {
					logger.Error(ctx, "Failed to list active jobs", err, nil)
					continue
				}
				for i := range jobs {
					if jobs[i].Status != models.JobPending {
						continue
					}
					if err := pool.Enqueue(ctx, jobs[i].ID); err != nil {
						logger.Warn(ctx, "Could not enqueue pending job", map[string]interface{}{
							"job_id": jobs[i].ID,
							"error":  err.Error(),
						})
					}
				}
			}
		}
	}()

	<-shutdownCh
	logger.Info(ctx, "Received shutdown signal, shutting down gracefully", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.WorkerShutdownTimeout)
	defer shutdownCancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "Error during shutdown", err, nil)
		os.Exit(1)
	}
	logger.Info(context.Background(), "Shutdown complete", nil)
}
