package otelobs

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"fhirwatch/shared/logging"
)

// AccessLogMiddleware logs one compact line per request with trace_id/span_id
// and mirrors them into Trace-Id and Span-Id response headers for correlation.
func AccessLogMiddleware(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		sc := trace.SpanContextFromContext(r.Context())
		if sc.IsValid() {
			sr.Header().Set("Trace-Id", sc.TraceID().String())
			sr.Header().Set("Span-Id", sc.SpanID().String())
		}
		next.ServeHTTP(sr, r)

		traceID, spanID := "-", "-"
		if sc.IsValid() {
			traceID = sc.TraceID().String()
			spanID = sc.SpanID().String()
		}
		logging.Infof("access method=%s path=%s status=%d dur_ms=%d trace_id=%s span_id=%s",
			r.Method, r.URL.Path, sr.status, time.Since(start).Milliseconds(), traceID, spanID)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
