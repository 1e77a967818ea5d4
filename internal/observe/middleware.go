package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// otherPath replaces unknown request paths in metric attributes.
const otherPath = "other"

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

type middlewareConfig struct {
	untraced map[string]bool
	known    map[string]bool
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

// WithUntracedPaths disables server spans for the given paths. Incoming
// trace context is still honoured for the correlation ID.
func WithUntracedPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		for _, p := range paths {
			c.untraced[p] = true
		}
	}
}

// WithKnownPaths limits the "path" metric attribute to the given paths;
// every other path is recorded as "other". Without this option the raw
// path is used.
func WithKnownPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if c.known == nil {
			c.known = make(map[string]bool, len(paths))
		}
		for _, p := range paths {
			c.known[p] = true
		}
	}
}

// Middleware wraps the diagnostics endpoints (/healthz, /readyz, /metrics).
// For every request it extracts W3C trace context, starts a server span
// unless the path is untraced, sets X-Correlation-ID and records
// [Metrics.HTTPRequestDuration] by method, path and status.
//
// Successful requests are logged at debug level since a scraper polls these
// endpoints every few seconds; anything at or above 400 is logged at warn.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{untraced: make(map[string]bool)}
	for _, o := range opts {
		o(&cfg)
	}
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			span := trace.SpanFromContext(ctx)
			if !cfg.untraced[path] {
				ctx, span = StartSpan(ctx, "HTTP "+r.Method+" "+path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(path),
					),
				)
				defer span.End()
			}

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			label := path
			if cfg.known != nil && !cfg.known[path] {
				label = otherPath
			}
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", label),
					attribute.String("status", strconv.Itoa(rec.statusCode)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level := slog.LevelDebug
			if rec.statusCode >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			slog.LogAttrs(ctx, level, "diagnostics request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
