package observability

import (
	"context"
	"os"

	"triviaapp/internal/config"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupObservability initializes tracing and logging for a service. The
// returned shutdown function flushes exporters; safe to call on a nil setup.
func SetupObservability(cfg *config.OpenTelemetryConfig, serviceName string) (logger *Logger, shutdown func(context.Context) error, err error) {
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}

	if err := os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName); err != nil {
		return nil, nil, err
	}

	logger = NewLogger(cfg)

	var tp *sdktrace.TracerProvider
	if cfg.EnableTracing {
		tp, err = InitTracing(cfg)
		if err != nil {
			return nil, nil, err
		}
		InitGlobalTracer()
		logger.Info(context.Background(), "Tracing enabled", map[string]interface{}{"service_name": cfg.ServiceName})
	}

	shutdown = func(ctx context.Context) error {
		if tp != nil {
			return tp.Shutdown(ctx)
		}
		return nil
	}
	return logger, shutdown, nil
}
