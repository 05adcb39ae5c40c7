package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxscribe/pkg/chunk"
)

// recordSpans installs a global tracer provider that keeps every ended span
// in memory until the test finishes.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog routes the default logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestSpanHelpers(t *testing.T) {
	entry := chunk.Entry{Index: 3, Start: 1499, Length: 302}
	tests := []struct {
		name  string
		start func(context.Context) (context.Context, trace.Span)
		want  string
		attrs []attribute.KeyValue
	}{
		{
			name:  "recording",
			start: func(ctx context.Context) (context.Context, trace.Span) { return StartRecordingSpan(ctx, "lecture.mp3") },
			want:  SpanRecording,
			attrs: []attribute.KeyValue{AttrRecording.String("lecture.mp3")},
		},
		{
			name: "run",
			start: func(ctx context.Context) (context.Context, trace.Span) {
				return StartRunSpan(ctx, "lecture.mp3", 12, 4)
			},
			want: SpanRun,
			attrs: []attribute.KeyValue{
				AttrRecording.String("lecture.mp3"),
				AttrChunks.Int(12),
				AttrConcurrency.Int(4),
			},
		},
		{
			name:  "chunk",
			start: func(ctx context.Context) (context.Context, trace.Span) { return StartChunkSpan(ctx, "lecture.mp3", entry) },
			want:  SpanChunk,
			attrs: []attribute.KeyValue{
				AttrRecording.String("lecture.mp3"),
				AttrChunkIndex.Int(3),
				AttrChunkStart.Float64(1499),
				AttrChunkLength.Float64(302),
			},
		},
		{
			name: "window",
			start: func(ctx context.Context) (context.Context, trace.Span) {
				return StartWindowSpan(ctx, 7, 2500*time.Millisecond)
			},
			want:  SpanWindow,
			attrs: []attribute.KeyValue{AttrWindowSeq.Int(7), AttrWindowAt.Float64(2.5)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp := recordSpans(t)
			_, span := tc.start(context.Background())
			span.End()

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name != tc.want {
				t.Errorf("span name = %q, want %q", spans[0].Name, tc.want)
			}
			got := attribute.NewSet(spans[0].Attributes...)
			for _, kv := range tc.attrs {
				if v, ok := got.Value(kv.Key); !ok || v != kv.Value {
					t.Errorf("attribute %s = %v, want %v", kv.Key, v.Emit(), kv.Value.Emit())
				}
			}
		})
	}
}

func TestStartChunkSpan_NestsUnderRecording(t *testing.T) {
	exp := recordSpans(t)

	ctx, rec := StartRecordingSpan(context.Background(), "a.wav")
	runCtx, run := StartRunSpan(ctx, "a.wav", 2, 1)
	_, first := StartChunkSpan(runCtx, "a.wav", chunk.Entry{Index: 0, Length: 300})
	_, second := StartChunkSpan(runCtx, "a.wav", chunk.Entry{Index: 1, Start: 290, Length: 10})
	first.End()
	second.End()
	run.End()
	rec.End()

	byName := map[string][]tracetest.SpanStub{}
	for _, s := range exp.GetSpans() {
		byName[s.Name] = append(byName[s.Name], s)
	}
	if len(byName[SpanChunk]) != 2 || len(byName[SpanRun]) != 1 || len(byName[SpanRecording]) != 1 {
		t.Fatalf("spans by name = %v", byName)
	}
	root, parent := byName[SpanRecording][0], byName[SpanRun][0]
	if parent.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("run span is not a child of the recording span")
	}
	for _, c := range byName[SpanChunk] {
		if c.Parent.SpanID() != parent.SpanContext.SpanID() {
			t.Errorf("chunk span %v is not a child of the run span", c.Attributes)
		}
		if c.SpanContext.TraceID() != root.SpanContext.TraceID() {
			t.Error("chunk span left the recording's trace")
		}
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	recordSpans(t)
	ctx, span := StartRecordingSpan(context.Background(), "a.wav")
	defer span.End()
	if got, want := CorrelationID(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("CorrelationID = %q, want trace ID %q", got, want)
	}
}

func TestLogger_CarriesChunkSpanIDs(t *testing.T) {
	recordSpans(t)
	logs := captureLog(t)

	ctx, run := StartRunSpan(context.Background(), "a.wav", 1, 1)
	defer run.End()
	ctx, span := StartChunkSpan(ctx, "a.wav", chunk.Entry{Index: 0, Length: 300})
	defer span.End()

	Logger(ctx).Debug("chunk transcribed", "chunk", 1)

	sc := span.SpanContext()
	line := logs.String()
	for _, want := range []string{
		"trace_id=" + sc.TraceID().String(),
		"span_id=" + sc.SpanID().String(),
		"chunk=1",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q does not contain %s", line, want)
		}
	}
	if strings.Contains(line, run.SpanContext().SpanID().String()) {
		t.Error("log line carries the run span instead of the chunk span")
	}
}

func TestLogger_WithoutSpan(t *testing.T) {
	logs := captureLog(t)
	Logger(context.Background()).Info("recording planned")
	if strings.Contains(logs.String(), "trace_id") || strings.Contains(logs.String(), "span_id") {
		t.Errorf("log line without a span has ids: %s", logs)
	}
}
