package realtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Event reports the transcription of one [Window].
type Event struct {
	Seq    int
	Offset time.Duration

	// Text is the trimmed transcript of the whole window, overlap included.
	Text string

	// Continuity compares Text with the previous non-empty transcript.
	Continuity transcribe.Continuity

	// Err is set when the window could not be transcribed; Text is empty.
	Err error

	Elapsed time.Duration
}

// Consumer transcribes windows one at a time, in arrival order.
type Consumer struct {
	provider     stt.Provider
	providerName string
	opts         stt.Options
	timeout      time.Duration
	metrics      *observe.Metrics
}

// ConsumerOption is a functional option for [NewConsumer].
type ConsumerOption func(*Consumer)

// WithOptions sets the request options for every window.
func WithOptions(opts stt.Options) ConsumerOption {
	return func(c *Consumer) { c.opts = opts }
}

// WithTimeout bounds each transcription call. Default: 30s.
func WithTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.timeout = d }
}

// WithProviderName labels provider metrics.
func WithProviderName(name string) ConsumerOption {
	return func(c *Consumer) { c.providerName = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a [Consumer] backed by p.
func NewConsumer(p stt.Provider, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		provider:     p,
		providerName: "stt",
		timeout:      transcribe.DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run drains in until it is closed, returning nil, or until ctx is done,
// returning the context error. Each window is transcribed once; failures are
// reported through emit and do not stop the loop. Windows that come back
// empty (silence) are skipped.
func (c *Consumer) Run(ctx context.Context, in <-chan Window, emit func(Event)) error {
	var prev string
	for {
		var (
			w  Window
			ok bool
		)
		select {
		case w, ok = <-in:
			if !ok {
				return nil
			}
			c.metrics.LiveQueueDepth.Add(ctx, -1)
		case <-ctx.Done():
			return ctx.Err()
		}

		ev := c.transcribe(ctx, w)
		if ev.Err == nil && ev.Text == "" {
			observe.Logger(ctx).Debug("realtime: silent window", "seq", w.Seq)
			continue
		}
		if ev.Err == nil {
			ev.Continuity = transcribe.CheckContinuity(prev, ev.Text)
			if ev.Continuity.Updated {
				c.metrics.ContinuityUpdates.Add(ctx, 1)
			}
			prev = ev.Text
		}
		emit(ev)
	}
}

func (c *Consumer) transcribe(ctx context.Context, w Window) Event {
	start := time.Now()
	ctx, span := observe.StartWindowSpan(ctx, w.Seq, w.Offset)
	defer span.End()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.provider.Transcribe(callCtx, stt.WAV(w.Data, audio.SpeechFormat), c.opts)
	elapsed := time.Since(start)

	status := observe.StatusOK
	if err != nil {
		status = observe.StatusFailed
		c.metrics.RecordProviderError(ctx, c.providerName, "request")
		span.RecordError(err)
		span.SetStatus(codes.Error, "window failed")
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, status, elapsed)

	ev := Event{Seq: w.Seq, Offset: w.Offset, Elapsed: elapsed, Err: err}
	if err == nil {
		ev.Text = strings.TrimSpace(res.Text)
	}
	return ev
}

// Printer returns an emit function that writes one line per event to out:
// "Transcript: ..." or "Updated transcript (context improved): ..." for
// transcripts and "Error transcribing window N: ..." for failures.
func Printer(out io.Writer) func(Event) {
	return func(ev Event) {
		if ev.Err != nil {
			fmt.Fprintf(out, "Error transcribing window %d: %v\n", ev.Seq+1, ev.Err)
			return
		}
		fmt.Fprintf(out, "%s %s\n", ev.Continuity.Label(), ev.Text)
	}
}
