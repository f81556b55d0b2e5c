package observability

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/daigou-ops/backoffice/internal/platform/requestctx"
)

var (
	meter           = otel.Meter("github.com/daigou-ops/backoffice/internal/platform/observability")
	tracer          = otel.Tracer("github.com/daigou-ops/backoffice/internal/platform/observability")
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
)

func init() {
	var err error
	requestCounter, err = meter.Int64Counter("http.server.request.count",
		metric.WithDescription("Count of handled HTTP requests"))
	if err != nil {
		requestCounter = nil
	}
	requestDuration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		requestDuration = nil
	}
}

// InjectLoggerMiddleware attaches a request-scoped logger to the context.
// Trace metadata from X-Cloud-Trace-Context and the operator from X-Actor
// are carried on the same context for handlers and services downstream.
func InjectLoggerMiddleware(base *zap.Logger, projectID string) func(http.Handler) http.Handler {
	if base == nil {
		base = requestctx.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			logger := base
			if requestID := middleware.GetReqID(ctx); requestID != "" {
				logger = logger.With(zap.String("request_id", requestID))
			}
			if info, ok := ParseCloudTraceHeader(r.Header.Get("X-Cloud-Trace-Context"), projectID); ok {
				ctx = requestctx.WithTrace(ctx, info)
				if resource := FormatTraceResource(info); resource != "" {
					logger = logger.With(zap.String("logging.googleapis.com/trace", resource))
				}
				if info.SpanID != "" {
					logger = logger.With(zap.String("logging.googleapis.com/spanId", info.SpanID))
				}
			}
			if actor := r.Header.Get("X-Actor"); actor != "" {
				ctx = requestctx.WithActor(ctx, actor)
				logger = logger.With(zap.String("actor", actor))
			}

			ctx = requestctx.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLoggerMiddleware emits one structured log line per request and
// records request count and latency metrics.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				))

			next.ServeHTTP(ww, r.WithContext(ctx))

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			span.End()

			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.Int("http.status_code", status),
			)
			if requestCounter != nil {
				requestCounter.Add(r.Context(), 1, attrs)
			}
			if requestDuration != nil {
				requestDuration.Record(r.Context(), float64(elapsed.Milliseconds()), attrs)
			}

			logger := requestctx.Logger(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request completed", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}

// RecoveryMiddleware converts panics into 500 responses and logs the stack.
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestctx.Logger(r.Context()).Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":{"code":"internal","message":"internal server error"}}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
