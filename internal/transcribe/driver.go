package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/chunk"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Default driver settings.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 1
)

// Driver transcribes the chunks of a plan. The zero value is not usable; create
// drivers with [NewDriver].
//
// A Driver holds no per-run state and may serve several runs concurrently.
type Driver struct {
	extractor    Extractor
	provider     stt.Provider
	providerName string
	options      stt.Options
	variations   []Variation
	timeout      time.Duration
	concurrency  int
	onSegment    func(Segment)
	metrics      *observe.Metrics
}

// Option is a functional option for [NewDriver].
type Option func(*Driver)

// WithConcurrency sets how many chunks are in flight at once. Values below 1
// mean sequential processing.
func WithConcurrency(n int) Option {
	return func(d *Driver) { d.concurrency = max(1, n) }
}

// WithTimeout bounds every transcription call. Zero disables the bound.
func WithTimeout(t time.Duration) Option {
	return func(d *Driver) { d.timeout = t }
}

// WithOptions sets the base request options (model, language hint, prompt)
// that every [Variation] is applied to.
func WithOptions(opts stt.Options) Option {
	return func(d *Driver) { d.options = opts }
}

// WithVariations replaces [DefaultVariations]. An empty list means a single
// attempt with the base options.
func WithVariations(v []Variation) Option {
	return func(d *Driver) { d.variations = v }
}

// WithProviderName sets the provider label used in metrics and spans.
func WithProviderName(name string) Option {
	return func(d *Driver) { d.providerName = name }
}

// WithOnSegment registers a callback invoked once per finished chunk.
// Invocations are serialised but, with concurrency above 1, arrive in
// completion order rather than index order.
func WithOnSegment(fn func(Segment)) Option {
	return func(d *Driver) { d.onSegment = fn }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver creates a [Driver] that extracts chunks with ex and transcribes
// them with p.
func NewDriver(ex Extractor, p stt.Provider, opts ...Option) *Driver {
	d := &Driver{
		extractor:    ex,
		provider:     p,
		providerName: "stt",
		variations:   DefaultVariations,
		timeout:      DefaultTimeout,
		concurrency:  DefaultConcurrency,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Run transcribes every entry of plan and returns one [Segment] per entry, in
// plan order. Entry indices are kept on the segments but need not be dense. Chunk failures are recorded in their segment and never
// stop the run. When ctx is cancelled the remaining chunks fail with the
// context error without touching the extractor or provider.
func (d *Driver) Run(ctx context.Context, rec Recording, plan chunk.Plan) []Segment {
	ctx, span := observe.StartRunSpan(ctx, rec.Name, len(plan), d.concurrency)
	defer span.End()

	log := observe.Logger(ctx).With("recording", rec.Name)
	if rec.Duration > 0 && !plan.Covers(rec.Duration) {
		log.Warn("chunk plan does not cover the recording", "duration", rec.Duration, "chunks", len(plan))
	}

	r := &retrier{
		provider: d.provider,
		attempts: attemptOptions(d.options, d.variations),
		timeout:  d.timeout,
		record:   d.recordCall,
	}

	segments := make([]Segment, len(plan))
	var mu sync.Mutex
	finish := func(i int, seg Segment) {
		segments[i] = seg
		if d.onSegment == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		d.onSegment(seg)
	}

	if d.concurrency <= 1 {
		for i, e := range plan {
			finish(i, d.process(ctx, r, rec, e))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i, e := range plan {
			g.Go(func() error {
				finish(i, d.process(ctx, r, rec, e))
				return nil
			})
		}
		_ = g.Wait()
	}

	sum := Summarize(segments)
	span.SetAttributes(observe.AttrChunksFailed.Int(sum.Failed))
	if sum.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d chunks failed", sum.Failed, sum.Chunks))
	}
	return segments
}

// process handles a single chunk from extraction to segment. The chunk's
// bytes are released before it returns.
func (d *Driver) process(ctx context.Context, r *retrier, rec Recording, e chunk.Entry) Segment {
	start := time.Now()
	ctx, span := observe.StartChunkSpan(ctx, rec.Name, e)
	defer span.End()
	log := observe.Logger(ctx).With("recording", rec.Name, "chunk", e.Index+1)

	seg := d.transcribeChunk(ctx, r, rec, e)
	seg.Elapsed = time.Since(start)

	status := observe.StatusOK
	if !seg.OK() {
		status = observe.StatusFailed
		span.RecordError(seg.Err)
		span.SetStatus(codes.Error, "chunk failed")
		log.Debug("chunk failed", "start", e.Start, "length", e.Length, "attempts", seg.Attempts, "err", seg.Err)
	} else {
		log.Debug("chunk transcribed", "attempts", seg.Attempts, "chars", len(seg.Text), "elapsed", seg.Elapsed)
	}
	d.metrics.RecordChunk(ctx, status)
	return seg
}

func (d *Driver) transcribeChunk(ctx context.Context, r *retrier, rec Recording, e chunk.Entry) Segment {
	if err := ctx.Err(); err != nil {
		return failedSegment(e, err)
	}

	extractStart := time.Now()
	data, err := d.extractor.ExtractSegment(ctx, rec.Path, e.Start, e.Length)
	d.metrics.ExtractDuration.Record(ctx, time.Since(extractStart).Seconds())
	if err != nil {
		return failedSegment(e, err)
	}

	c := &Chunk{Entry: e, Data: data}
	defer c.Release()

	a := stt.Audio{
		Data:        c.Data,
		Name:        fmt.Sprintf("chunk_%03d.wav", e.Index+1),
		ContentType: "audio/wav",
	}
	res, err := r.transcribe(ctx, e.Index, a)
	if err != nil {
		seg := failedSegment(e, err)
		var te *TranscriptionError
		if errors.As(err, &te) {
			seg.Attempts = te.Attempts
		}
		return seg
	}
	return Segment{
		Index:      e.Index,
		Start:      e.Start,
		Length:     e.Length,
		Status:     StatusOK,
		Text:       res.Text,
		Language:   res.Language,
		Attempts:   res.Attempts,
		Confidence: confidence(res.Variation, res.Text),
	}
}

// recordCall feeds provider metrics for one transcription attempt.
func (d *Driver) recordCall(ctx context.Context, status string, elapsed time.Duration, err error) {
	d.metrics.RecordProviderRequest(ctx, d.providerName, status, elapsed)
	if err == nil {
		return
	}
	kind := "request"
	switch {
	case errors.Is(err, stt.ErrEmptyResult):
		kind = "empty_result"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	}
	d.metrics.RecordProviderError(ctx, d.providerName, kind)
}

// LogSegment is a [WithOnSegment] callback that reports chunk progress
// through slog.
func LogSegment(s Segment) {
	attrs := []any{"chunk", s.Index + 1, "start", s.Start, "status", s.Status.String()}
	if s.OK() {
		attrs = append(attrs, "attempts", s.Attempts, "confidence", s.Confidence, "elapsed", s.Elapsed.Round(time.Millisecond))
		slog.Info("chunk finished", attrs...)
		return
	}
	slog.Warn("chunk failed", append(attrs, "err", s.Err)...)
}
