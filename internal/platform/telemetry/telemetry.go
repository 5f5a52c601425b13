package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/myaview/backend/internal/platform/envutil"
	"github.com/myaview/backend/internal/platform/logger"
)

// Setup installs a global tracer provider. Returns a shutdown func.
func Setup(log *logger.Logger) (func(context.Context) error, error) {
	if !envutil.GetEnvAsBool("OTEL_ENABLED", false, log) {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: init exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	log.Info("Tracing enabled (stdout exporter)")
	return tp.Shutdown, nil
}
