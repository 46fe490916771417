// Package otelhelper wires OpenTelemetry tracing for executions and node attempts.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	TenantIDKey        = "leadflow.tenant.id"
	WorkflowIDKey      = "leadflow.workflow.id"
	WorkflowVersionKey = "leadflow.workflow.version"
	ExecutionIDKey     = "leadflow.execution.id"
	TriggerSourceKey   = "leadflow.trigger.source"
	NodeIDKey          = "leadflow.node.id"
	NodeKindKey        = "leadflow.node.kind"
	AttemptKey         = "leadflow.node.attempt"
	AgentIDKey         = "leadflow.agent.id"
	AgentRoleKey       = "leadflow.agent.role"
	StatusKey          = "leadflow.execution.status"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// NewTracer returns an OTLP/HTTP backed tracer, or a no-op tracer when disabled.
//
// nolint:ireturn // OpenTelemetry tracers are interfaces
func NewTracer(ctx context.Context, serviceName string, enabled bool) (trace.Tracer, ShutdownFunc, error) {
	if !enabled {
		return NoopTracer(), func(context.Context) error { return nil }, nil
	}

	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// nolint:ireturn // OpenTelemetry tracers are interfaces
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("leadflow")
}

// nolint:ireturn,spancheck // callers end the span
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
