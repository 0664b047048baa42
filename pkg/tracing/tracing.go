package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "roomrelay"

// Span attributes shared by the relay's spans.
var (
	RoomIDKey       = attribute.Key("room.id")
	ConnectionIDKey = attribute.Key("connection.id")
	TargetIDKey     = attribute.Key("signal.target")
	SignalKindKey   = attribute.Key("signal.kind")
	ErrorCodeKey    = attribute.Key("error.code")
	EventTypeKey    = attribute.Key("events.type")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "roomrelay",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Provider owns the tracer provider installed by Init. The zero value,
// returned when tracing is disabled, does nothing.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

// Init exports spans to Jaeger and installs the provider and W3C
// propagators globally. Parent sampling decisions are honoured so a trace
// started by an upstream proxy stays whole.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)

	sdk := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return start(ctx, "http."+method, trace.SpanKindServer,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

// TraceWebSocketMessage covers the handling of one inbound frame.
func TraceWebSocketMessage(ctx context.Context, messageType, connectionID string) (context.Context, trace.Span) {
	return start(ctx, "websocket."+messageType, trace.SpanKindServer,
		attribute.String("websocket.message_type", messageType),
		ConnectionIDKey.String(connectionID),
	)
}

// TraceSignalRelay covers forwarding one offer, answer or candidate.
func TraceSignalRelay(ctx context.Context, kind, target string) (context.Context, trace.Span) {
	return start(ctx, "signal."+kind, trace.SpanKindInternal,
		SignalKindKey.String(kind),
		TargetIDKey.String(target),
	)
}

func TraceEventPublish(ctx context.Context, eventType, roomID string) (context.Context, trace.Span) {
	return start(ctx, "events."+eventType, trace.SpanKindProducer,
		EventTypeKey.String(eventType),
		RoomIDKey.String(roomID),
	)
}

// Annotate adds attributes to the span carried by ctx, if it is recording.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span carried by ctx as failed.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, err.Error())
}
