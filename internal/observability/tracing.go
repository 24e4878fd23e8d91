package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/oggyb/tubematch/internal/config"
)

// InitTracing installs the global tracer provider. Spans are written to stdout
// when TRACE_STDOUT is set; otherwise they are sampled but not exported.
// The returned func flushes and shuts the provider down.
func InitTracing(cfg *config.Config, service string, log *slog.Logger) (func(context.Context) error, error) {
	var out io.Writer
	if cfg != nil && cfg.Trace.Stdout {
		out = os.Stdout
	}
	return initTracing(cfg, service, out, log)
}

func initTracing(cfg *config.Config, service string, out io.Writer, log *slog.Logger) (func(context.Context) error, error) {
	env := ""
	if cfg != nil {
		env = cfg.App.ENV
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", service),
		attribute.String("deployment.environment", env),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if out != nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if log != nil {
		log.Info("tracing initialized", "service", service, "stdout", out != nil)
	}
	return tp.Shutdown, nil
}
