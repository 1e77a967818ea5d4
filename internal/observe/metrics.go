// Package observe provides the observability primitives of pivoice:
// OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed in
// Prometheus format by the exporter [InitProvider] installs. A package-level
// [DefaultMetrics] instance is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pivoice metrics.
const meterName = "github.com/MrWong99/pivoice"

// Turn outcomes recorded on [Metrics.Turns].
const (
	OutcomeReplied     = "replied"
	OutcomeSpoken      = "spoken"
	OutcomeSilent      = "silent"
	OutcomeDeviceError = "device_error"
	OutcomeSTTError    = "stt_error"
	OutcomeLLMError    = "llm_error"
	OutcomeEmptyReply  = "empty_reply"
	OutcomeCancelled   = "cancelled"
	OutcomeFatal       = "fatal"
)

// Metrics holds all OpenTelemetry instruments of the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// CaptureDuration tracks how long a microphone capture took.
	CaptureDuration metric.Float64Histogram

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis plus playback time.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished turns. Use with attribute:
	//   attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// MemoryAvailable is the last sampled available memory in MB.
	MemoryAvailable metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. They stretch further
// than a streaming pipeline would need: a small model on a Pi can take tens
// of seconds for one capture.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.CaptureDuration, err = histogram("pivoice.capture.duration", "Duration of microphone capture."); err != nil {
		return nil, err
	}
	if met.STTDuration, err = histogram("pivoice.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("pivoice.llm.duration", "Latency of LLM completion."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("pivoice.tts.duration", "Duration of speech synthesis including playback."); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("pivoice.turns",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("pivoice.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("pivoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.MemoryAvailable, err = m.Int64Gauge("pivoice.memory.available",
		metric.WithDescription("Available system memory at the last sample."),
		metric.WithUnit("MBy"),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("pivoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call with its status, "ok" or
// "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProvider records a finished provider call: a request with its status
// and, when err is non-nil, an error.
func (m *Metrics) RecordProvider(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Since records the seconds elapsed since start on h.
func Since(ctx context.Context, h metric.Float64Histogram, start time.Time) {
	h.Record(ctx, time.Since(start).Seconds())
}
