// Package observe provides application-wide observability primitives for
// Ringline: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Ringline metrics.
const meterName = "github.com/ringline-ai/ringline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-to-text transcription latency per chunk.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks language-model completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end latency from finished caller phrase
	// to queued reply playback.
	TurnDuration metric.Float64Histogram

	// PacingDrift tracks how far behind schedule outbound frames fall.
	PacingDrift metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts outbound media frames delivered to the carrier.
	FramesSent metric.Int64Counter

	// BargeIns counts caller interruptions of assistant playback.
	BargeIns metric.Int64Counter

	// TTSDroppedBytes counts synthesized audio bytes dropped because the
	// playback queue was full.
	TTSDroppedBytes metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live media streams.
	ActiveCalls metric.Int64UpDownCounter

	// ActivePlayback tracks in-flight assistant playbacks.
	ActivePlayback metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// driftBuckets defines bucket boundaries (in seconds) for pacing drift,
// which lives well below the latency range.
var driftBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("ringline.asr.duration",
		metric.WithDescription("Latency of speech-to-text transcription per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("ringline.llm.duration",
		metric.WithDescription("Latency of language-model completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("ringline.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("ringline.turn.duration",
		metric.WithDescription("End-to-end latency from finished caller phrase to queued reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PacingDrift, err = m.Float64Histogram("ringline.pacing.drift",
		metric.WithDescription("How far behind schedule outbound frames fall."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(driftBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("ringline.frames.sent",
		metric.WithDescription("Outbound media frames delivered to the carrier."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("ringline.barge_ins",
		metric.WithDescription("Caller interruptions of assistant playback."),
	); err != nil {
		return nil, err
	}
	if met.TTSDroppedBytes, err = m.Int64Counter("ringline.tts.dropped_bytes",
		metric.WithDescription("Synthesized audio bytes dropped due to playback queue overflow."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("ringline.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ringline.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("ringline.active_calls",
		metric.WithDescription("Number of live media streams."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayback, err = m.Int64UpDownCounter("ringline.active_playback",
		metric.WithDescription("Number of in-flight assistant playbacks."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ringline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
