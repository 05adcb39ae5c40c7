package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxscribe/pkg/chunk"
)

const tracerName = "github.com/MrWong99/voxscribe"

// Span names.
const (
	SpanRecording = "transcribe.recording"
	SpanRun       = "transcribe.run"
	SpanChunk     = "transcribe.chunk"
	SpanWindow    = "realtime.window"
)

// Span attribute keys shared by the batch and live pipelines.
const (
	AttrRecording    = attribute.Key("recording")
	AttrChunks       = attribute.Key("chunks")
	AttrChunksFailed = attribute.Key("chunks.failed")
	AttrConcurrency  = attribute.Key("concurrency")
	AttrChunkIndex   = attribute.Key("chunk.index")
	AttrChunkStart   = attribute.Key("chunk.start")
	AttrChunkLength  = attribute.Key("chunk.length")
	AttrWindowSeq    = attribute.Key("window.seq")
	AttrWindowAt     = attribute.Key("window.offset_s")
)

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartRecordingSpan opens the span covering one whole file, from probing to
// the sinks.
func StartRecordingSpan(ctx context.Context, recording string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanRecording, trace.WithAttributes(AttrRecording.String(recording)))
}

// StartRunSpan opens the span of one driver run over a plan of chunks.
func StartRunSpan(ctx context.Context, recording string, chunks, concurrency int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanRun, trace.WithAttributes(
		AttrRecording.String(recording),
		AttrChunks.Int(chunks),
		AttrConcurrency.Int(concurrency),
	))
}

// StartChunkSpan opens the span of one plan entry. Chunk indices are 0-based
// here even though logs and placeholders count from 1.
func StartChunkSpan(ctx context.Context, recording string, e chunk.Entry) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanChunk, trace.WithAttributes(
		AttrRecording.String(recording),
		AttrChunkIndex.Int(e.Index),
		AttrChunkStart.Float64(e.Start),
		AttrChunkLength.Float64(e.Length),
	))
}

// StartWindowSpan opens the span of one live window.
func StartWindowSpan(ctx context.Context, seq int, offset time.Duration) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanWindow, trace.WithAttributes(
		AttrWindowSeq.Int(seq),
		AttrWindowAt.Float64(offset.Seconds()),
	))
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. The
// admin listener returns it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx, so chunk log lines can be matched to their trace.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
