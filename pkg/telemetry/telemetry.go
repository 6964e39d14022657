// pkg/telemetry/telemetry.go
package telemetry

import (
	"context"
	"os"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/xdg"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/CodeMonkeyCybersecurity/warden"

// ShutdownFunc flushes pending spans and uninstalls the provider.
type ShutdownFunc func(context.Context) error

// Init installs the global tracer provider for service. With path empty
// spans are dropped; otherwise finished spans are appended to path, one JSON
// object per line.
func Init(service, path string) (ShutdownFunc, error) {
	if path == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if err := xdg.EnsureDir(path); err != nil {
		return nil, warden_err.NewConfigError(warden_err.InvalidPath, "telemetry.trace_file", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, warden_err.NewConfigError(warden_err.InvalidPath, "telemetry.trace_file", err)
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(file),
		stdouttrace.WithoutTimestamps(), // spans carry their own
	)
	if err != nil {
		_ = file.Close()
		return nil, cerr.Wrap(err, "create trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("host.name", hostname()),
		)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		var result error
		if err := tp.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		if err := file.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		otel.SetTracerProvider(noop.NewTracerProvider())
		return result
	}, nil
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed when err is set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
