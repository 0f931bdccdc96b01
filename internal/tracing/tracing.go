// Package tracing installs the OpenTelemetry tracer provider and offers a
// small span helper for the pipeline.
package tracing

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sells-group/supplyrisk/internal/config"
)

const instrumentation = "github.com/sells-group/supplyrisk"

// Shutdown flushes and stops the provider.
type Shutdown func(ctx context.Context) error

// Setup installs a global tracer provider according to cfg. When tracing is
// disabled the global no-op provider is left in place.
func Setup(cfg config.TracingConfig) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	var w io.Writer = os.Stdout
	var closer io.Closer
	switch cfg.Exporter {
	case "", "stdout":
	case "file":
		if cfg.File == "" {
			return noop, eris.New("tracing: file exporter requires tracing.file")
		}
		f, err := os.Create(cfg.File)
		if err != nil {
			return noop, eris.Wrap(err, "tracing: create output file")
		}
		w, closer = f, f
	default:
		return noop, eris.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return noop, eris.Wrap(err, "tracing: create exporter")
	}
	return install(cfg.ServiceName, sdktrace.NewBatchSpanProcessor(exp), closer)
}

// SetupWithExporter installs a provider that exports each span synchronously
// as it ends.
func SetupWithExporter(service string, exp sdktrace.SpanExporter) (Shutdown, error) {
	return install(service, sdktrace.NewSimpleSpanProcessor(exp), nil)
}

func install(service string, sp sdktrace.SpanProcessor, closer io.Closer) (Shutdown, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", service)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "tracing: build resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if err != nil {
			return eris.Wrap(err, "tracing: shutdown")
		}
		return nil
	}, nil
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
