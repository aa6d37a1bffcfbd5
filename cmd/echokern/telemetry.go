package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/sbl8/echokern/cmd/echokern"

// newTracer returns the tracer selected by exporter and a flush function,
// nil when there is nothing to flush.
func newTracer(exporter string, w io.Writer) (trace.Tracer, func(context.Context) error, error) {
	switch exporter {
	case "", "none":
		return noop.NewTracerProvider().Tracer(tracerName), nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create exporter: %w", err)
		}
		res := resource.NewWithAttributes(
			"",
			attribute.String("service.name", "echokern"),
			attribute.String("service.version", version),
		)
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		return tp.Tracer(tracerName), tp.Shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q, must be 'none' or 'stdout'", exporter)
	}
}
