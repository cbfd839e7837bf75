// Package main provides the entry point for the trivia question-supply API
// server. It wires configuration, observability, services, and routes.
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
	"triviaapp/internal/handlers"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/gin-gonic/gin"
)

// Application encapsulates the running server so it can be tested
type Application struct {
	container *di.ServiceContainer
	router    *gin.Engine
}

// NewApplication builds the router from an initialized container
func NewApplication(container *di.ServiceContainer) *Application {
	router := handlers.NewRouter(
		container.GetConfig(),
		container.GetQuestionService(),
		container.GetJobRegistry(),
		container.GetReplenishmentService(),
		container.GetMetricsService(),
		container.GetCleanupService(),
		container.GetHub(),
		container.GetLogger(),
	)
	return &Application{container: container, router: router}
}

// Run starts the HTTP server and blocks until it fails or the context ends
func (a *Application) Run(ctx context.Context, port string) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := a.router.Run(":" + port); err != nil {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return contextutils.WrapError(err, "server failed")
	}
}

// Shutdown gracefully shuts down the application
func (a *Application) Shutdown(ctx context.Context) error {
	return a.container.Shutdown(ctx)
}

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

	logger, otelShutdown, err := observability.SetupObservability(&cfg.OpenTelemetry, "trivia-backend")
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

	logger.Info(ctx, "Starting trivia backend service", map[string]interface{}{
		"port":     cfg.Server.Port,
		"logLevel": cfg.Server.LogLevel,
	})

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	container := di.NewServiceContainer(cfg, logger)
	if err := container.Initialize(ctx, di.ContainerOptions{}); err != nil {
		logger.Error(ctx, "Failed to initialize services", err, nil)
		os.Exit(1)
	}
	container.Start(ctx)

	app := NewApplication(container)

	appErr := make(chan error, 1)
	go func() {
		if err := app.Run(ctx, cfg.Server.Port); err != nil {
			appErr <- err
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info(ctx, "Received shutdown signal, shutting down gracefully", nil)
	case err := <-appErr:
		logger.Error(ctx, "Application failed", err, nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.WorkerShutdownTimeout)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during shutdown", err, nil)
		os.Exit(1)
	}
	logger.Info(ctx, "Shutdown complete", nil)
}
