//go:build otelotlp

package otelobs

import (
	"context"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"fhirwatch/shared/logging"
)

// InitTracer sets up an OTLP HTTP exporter and returns a shutdown func.
// Without OTEL_EXPORTER_OTLP_ENDPOINT set, tracing stays disabled.
func InitTracer(serviceName string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logging.Infof("no OTEL_EXPORTER_OTLP_ENDPOINT; tracing disabled for %s", serviceName)
		return func(context.Context) error { return nil }
	}
	exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		logging.Errorf("otel exporter init failed: %v", err)
		return func(context.Context) error { return nil }
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		logging.Warnf("otel resource init failed: %v", err)
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// WrapHTTPHandler decorates the handler with otelhttp so inbound requests
// produce server spans with W3C tracecontext propagation.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return otelhttp.NewHandler(h, serviceName)
}

// WrapHTTPTransport decorates a RoundTripper so outbound requests create
// client spans and carry traceparent headers.
func WrapHTTPTransport(t http.RoundTripper) http.RoundTripper {
	if t == nil {
		return otelhttp.DefaultClient.Transport
	}
	return otelhttp.NewTransport(t)
}
