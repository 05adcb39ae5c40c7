// Package observe provides application-wide observability primitives for
// voxscribe: OpenTelemetry metrics, distributed tracing, trace-aware structured
// logging, and HTTP middleware for the admin listener.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxscribe metrics.
const meterName = "github.com/MrWong99/voxscribe"

// Status attribute values shared by the counters.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the latency of a single transcription request. Use
	// with attribute.String("provider", ...).
	STTDuration metric.Float64Histogram

	// ExtractDuration tracks ffmpeg segment extraction latency.
	ExtractDuration metric.Float64Histogram

	// RecordingDuration tracks the wall-clock time to transcribe one whole
	// recording.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Chunks counts finished chunks. Use with attribute.String("status", ...).
	Chunks metric.Int64Counter

	// Recordings counts finished recordings. Use with
	// attribute.String("status", ...).
	Recordings metric.Int64Counter

	// ContinuityUpdates counts live windows whose overlap text changed
	// relative to the previous window.
	ContinuityUpdates metric.Int64Counter

	// --- Gauges ---

	// LiveQueueDepth tracks the number of audio windows waiting in the live
	// pipeline queue.
	LiveQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for a
// single chunk request; hosted whisper models take seconds, not milliseconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// recordingBuckets spans whole-recording runs from seconds up to an hour.
var recordingBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voxscribe.stt.duration",
		metric.WithDescription("Latency of a single speech-to-text request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractDuration, err = m.Float64Histogram("voxscribe.chunk.extract.duration",
		metric.WithDescription("Latency of extracting one chunk with ffmpeg."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("voxscribe.recording.duration",
		metric.WithDescription("Wall-clock time to transcribe a whole recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("voxscribe.chunks",
		metric.WithDescription("Total transcribed chunks by status."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("voxscribe.recordings",
		metric.WithDescription("Total processed recordings by status."),
	); err != nil {
		return nil, err
	}
	if met.ContinuityUpdates, err = m.Int64Counter("voxscribe.continuity.updates",
		metric.WithDescription("Live windows whose overlap text differed from the previous window."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.LiveQueueDepth, err = m.Int64UpDownCounter("voxscribe.live.queue_depth",
		metric.WithDescription("Audio windows waiting in the live pipeline queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxscribe.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
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

// RecordProviderRequest records one provider call: the request counter with
// its status and, for every call, the STT latency histogram.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, d time.Duration) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.STTDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunk records a finished chunk with its status.
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRecording records a finished recording with its status and total
// processing time.
func (m *Metrics) RecordRecording(ctx context.Context, status string, d time.Duration) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.RecordingDuration.Record(ctx, d.Seconds())
}
