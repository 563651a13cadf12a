// Package telemetry wires OpenTelemetry tracing for the gateway.
package telemetry

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options configures InitTracer.
type Options struct {
	ServiceName string
	// Writer receives exported spans. Nil means stdout.
	Writer io.Writer
	// Sync exports every span as it ends instead of batching.
	Sync   bool
	Logger zerolog.Logger
}

// InitTracer installs a global tracer provider exporting to a writer and
// returns its shutdown func.
func InitTracer(opts Options) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "modelgate"
	}
	expOpts := []stdouttrace.Option{}
	if opts.Writer != nil {
		expOpts = append(expOpts, stdouttrace.WithWriter(opts.Writer))
	}
	exporter, err := stdouttrace.New(expOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", opts.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	spanOpt := sdktrace.WithBatcher(exporter)
	if opts.Sync {
		spanOpt = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(spanOpt, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	opts.Logger.Info().Str("event", "tracing_enabled").Str("service", opts.ServiceName).Msg("")
	return tp.Shutdown, nil
}

// Middleware wraps handlers with otelhttp server spans.
func Middleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation)
	}
}
