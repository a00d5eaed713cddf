//go:build !otelotlp

// Package otelobs provides optional OpenTelemetry tracing. The default build
// compiles to no-ops; build with -tags otelotlp for the real implementation.
package otelobs

import (
	"context"
	"net/http"
)

// InitTracer is a no-op by default. Build with -tags otelotlp to export spans.
func InitTracer(serviceName string) func(context.Context) error {
	return func(context.Context) error { return nil }
}

// WrapHTTPHandler is a no-op by default. Build with -tags otelotlp to produce
// server spans.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler { return h }

// WrapHTTPTransport is a no-op by default. Build with -tags otelotlp to enable
// trace propagation on outbound requests.
func WrapHTTPTransport(t http.RoundTripper) http.RoundTripper { return t }
