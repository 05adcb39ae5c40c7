package realtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxscribe/pkg/provider/stt/mock"
)

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// ramp returns n mono samples whose value is their index.
func ramp(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(i))
	}
	return buf
}

// sampleAt reads sample i of 16-bit PCM.
func sampleAt(pcm []byte, i int) int {
	return int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
}

func collectWindows(t *testing.T, p *Producer) []Window {
	t.Helper()
	out := make(chan Window, 100)
	if err := p.Run(context.Background(), out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var ws []Window
	for w := range out {
		ws = append(ws, w)
	}
	return ws
}

func TestNewProducer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProducerConfig
	}{
		{name: "overlap equals window", cfg: ProducerConfig{Window: time.Second, Overlap: time.Second}},
		{name: "negative overlap", cfg: ProducerConfig{Window: time.Second, Overlap: -time.Millisecond}},
		{name: "negative window", cfg: ProducerConfig{Window: -time.Second}},
		{name: "bad input", cfg: ProducerConfig{Input: audio.Format{SampleRate: 8000}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProducer(strings.NewReader(""), tc.cfg, newTestMetrics(t)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProducer_WindowsWithOverlapTail(t *testing.T) {
	// 1s window = 16000 samples; 0.25s overlap = 4000 samples; 2.5s of audio.
	src := bytes.NewReader(ramp(40000))
	p, err := NewProducer(src, ProducerConfig{Window: time.Second, Overlap: 250 * time.Millisecond}, newTestMetrics(t))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	ws := collectWindows(t, p)

	if len(ws) != 3 {
		t.Fatalf("got %d windows, want 3", len(ws))
	}
	tests := []struct {
		samples int
		first   int
		offset  time.Duration
		overlap time.Duration
	}{
		{samples: 16000, first: 0, offset: 0, overlap: 0},
		{samples: 20000, first: 12000, offset: time.Second, overlap: 250 * time.Millisecond},
		{samples: 12000, first: 28000, offset: 2 * time.Second, overlap: 250 * time.Millisecond},
	}
	for i, want := range tests {
		w := ws[i]
		if w.Seq != i {
			t.Errorf("window %d: Seq = %d", i, w.Seq)
		}
		if got := len(w.Data) / 2; got != want.samples {
			t.Errorf("window %d: %d samples, want %d", i, got, want.samples)
		}
		if got := sampleAt(w.Data, 0); got != want.first {
			t.Errorf("window %d: first sample %d, want %d", i, got, want.first)
		}
		if w.Offset != want.offset || w.Overlap != want.overlap {
			t.Errorf("window %d: offset %v overlap %v, want %v %v", i, w.Offset, w.Overlap, want.offset, want.overlap)
		}
	}
	// The last sample of the stream is delivered exactly once, at the end.
	last := ws[2]
	if got := sampleAt(last.Data, len(last.Data)/2-1); got != 39999 {
		t.Errorf("last sample = %d, want 39999", got)
	}
}

func TestProducer_ConvertsInputFormat(t *testing.T) {
	stereo48k := audio.Format{SampleRate: 48000, Channels: 2}
	src := bytes.NewReader(make([]byte, stereo48k.Bytes(time.Second)))
	p, err := NewProducer(src, ProducerConfig{Input: stereo48k, Window: 500 * time.Millisecond}, newTestMetrics(t))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	ws := collectWindows(t, p)
	if len(ws) != 2 {
		t.Fatalf("got %d windows, want 2", len(ws))
	}
	for _, w := range ws {
		if w.Duration() != 500*time.Millisecond {
			t.Errorf("window %d duration = %v, want 500ms of speech-format audio", w.Seq, w.Duration())
		}
	}
}

func TestProducer_EmptySource(t *testing.T) {
	p, err := NewProducer(strings.NewReader(""), ProducerConfig{}, newTestMetrics(t))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if ws := collectWindows(t, p); len(ws) != 0 {
		t.Errorf("got %d windows from an empty source", len(ws))
	}
}

func TestProducer_ReadError(t *testing.T) {
	errDevice := errors.New("device unplugged")
	src := io.MultiReader(bytes.NewReader(ramp(100)), &failingReader{err: errDevice})
	p, err := NewProducer(src, ProducerConfig{Window: time.Second}, newTestMetrics(t))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	out := make(chan Window, 4)
	if err := p.Run(context.Background(), out); !errors.Is(err, errDevice) {
		t.Fatalf("Run err = %v, want %v", err, errDevice)
	}
	if _, ok := <-out; ok {
		t.Error("partial window before a read error should not be sent")
	}
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

// blockingSource never yields data until closed.
type blockingSource struct {
	once   sync.Once
	closed chan struct{}
}

func (b *blockingSource) Read([]byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingSource) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestProducer_CancelUnblocksRead(t *testing.T) {
	src := &blockingSource{closed: make(chan struct{})}
	p, err := NewProducer(src, ProducerConfig{}, newTestMetrics(t))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Window)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, out) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
	if _, ok := <-out; ok {
		t.Error("output channel not closed")
	}
}

func TestProducer_Backpressure(t *testing.T) {
	src := bytes.NewReader(ramp(16000 * 5))
	p, err := NewProducer(src, ProducerConfig{Window: time.Second}, newTestMetrics(t))
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	out := make(chan Window, 1)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), out) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("producer finished while the queue was full")
	default:
	}
	if got := src.Len(); got == 0 {
		t.Error("producer read the whole source despite a full queue")
	}
	n := 0
	for range out {
		n++
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 5 {
		t.Errorf("received %d windows, want 5", n)
	}
}

func TestConsumer_ContinuityAndErrors(t *testing.T) {
	p := &sttmock.Provider{Responses: []sttmock.Response{
		{Result: stt.Result{Text: " the cat "}},
		{Result: stt.Result{Text: "the cat sat"}},
		{Err: errors.New("503")},
		{Result: stt.Result{Text: ""}},
		{Result: stt.Result{Text: "a hat sat on the mat"}},
	}}
	c := NewConsumer(p, WithMetrics(newTestMetrics(t)), WithOptions(stt.Options{Language: "en"}))

	in := make(chan Window, 5)
	for i := range 5 {
		in <- Window{Seq: i, Data: ramp(160)}
	}
	close(in)

	var buf bytes.Buffer
	var events []Event
	printLine := Printer(&buf)
	err := c.Run(context.Background(), in, func(ev Event) {
		events = append(events, ev)
		printLine(ev)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4 (silent window skipped)", len(events))
	}
	want := "Transcript: the cat\n" +
		"Transcript: the cat sat\n" +
		"Error transcribing window 3: 503\n" +
		"Updated transcript (context improved): a hat sat on the mat\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
	if p.CallCount() != 5 {
		t.Errorf("provider called %d times, want one call per window", p.CallCount())
	}
	if got := p.Calls()[0].Opts.Language; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
	if a := p.Calls()[0].Audio; !bytes.HasPrefix(a.Data, []byte("RIFF")) {
		t.Error("window not sent as WAV")
	}
}

func TestConsumer_WindowSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	p := &sttmock.Provider{Responses: []sttmock.Response{
		{Result: stt.Result{Text: "one"}},
		{Err: errors.New("503")},
	}}
	c := NewConsumer(p, WithMetrics(newTestMetrics(t)))
	in := make(chan Window, 2)
	in <- Window{Seq: 0, Data: ramp(160)}
	in <- Window{Seq: 1, Offset: 4 * time.Second, Data: ramp(160)}
	close(in)
	if err := c.Run(context.Background(), in, func(Event) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want one per window", len(spans))
	}
	for _, s := range spans {
		if s.Name != observe.SpanWindow {
			t.Errorf("span name = %q, want %q", s.Name, observe.SpanWindow)
		}
		attrs := attribute.NewSet(s.Attributes...)
		seq, _ := attrs.Value(observe.AttrWindowSeq)
		at, _ := attrs.Value(observe.AttrWindowAt)
		switch seq.AsInt64() {
		case 0:
			if s.Status.Code != codes.Unset {
				t.Errorf("window 0 status = %v, want Unset", s.Status.Code)
			}
		case 1:
			if at.AsFloat64() != 4 {
				t.Errorf("window 1 offset = %v, want 4", at.AsFloat64())
			}
			if s.Status.Code != codes.Error {
				t.Errorf("window 1 status = %v, want Error", s.Status.Code)
			}
		default:
			t.Errorf("unexpected window seq %d", seq.AsInt64())
		}
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	c := NewConsumer(&sttmock.Provider{}, WithMetrics(newTestMetrics(t)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx, make(chan Window), func(Event) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v, want context.Canceled", err)
	}
}

func TestRun_Pipeline(t *testing.T) {
	m := newTestMetrics(t)
	p, err := NewProducer(bytes.NewReader(ramp(16000*3)), ProducerConfig{Window: time.Second, Overlap: 200 * time.Millisecond}, m)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	prov := &sttmock.Provider{
		Func: func(_ context.Context, a stt.Audio, _ stt.Options) (stt.Result, error) {
			return stt.Result{Text: "words"}, nil
		},
	}
	var seqs []int
	err = Run(context.Background(), p, NewConsumer(prov, WithMetrics(m)), 2, func(ev Event) {
		seqs = append(seqs, ev.Seq)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 0 || seqs[2] != 2 {
		t.Errorf("events = %v, want windows 0..2 in order", seqs)
	}
}

func TestDialWebSocket(t *testing.T) {
	pcm := ramp(16000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer relay" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		ctx := r.Context()
		// Two messages split mid-window.
		_ = conn.Write(ctx, websocket.MessageBinary, pcm[:10000])
		_ = conn.Write(ctx, websocket.MessageBinary, pcm[10000:])
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := DialWebSocket(ctx, wsURL, nil); err == nil {
		t.Error("expected handshake failure without credentials")
	}

	rc, err := DialWebSocket(ctx, wsURL, http.Header{"Authorization": {"Bearer relay"}})
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("received %d bytes, want %d identical bytes", len(got), len(pcm))
	}
}

func TestOpenSource_Unknown(t *testing.T) {
	if _, _, err := OpenSource(context.Background(), SourceConfig{Kind: "carrier-pigeon"}, nil); err == nil {
		t.Error("expected error for unknown source")
	}
	if _, _, err := OpenSource(context.Background(), SourceConfig{Kind: SourceWebSocket}, nil); err == nil {
		t.Error("expected error for websocket source without url")
	}
}
