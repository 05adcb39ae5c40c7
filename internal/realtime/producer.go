// Package realtime transcribes live audio as a producer/consumer pipeline.
//
// A [Producer] cuts a PCM stream into fixed windows, each prefixed with the
// tail of the previous one, and sends them to a bounded channel. A [Consumer]
// drains the channel, transcribes every window once and reports an [Event]
// with a continuity hint relative to the previous window. Closing the channel
// tells the consumer the stream is over; cancelling the context stops both
// sides.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/chunk"
)

// Window is one unit of work for the [Consumer].
type Window struct {
	// Seq numbers windows from 0 in capture order.
	Seq int

	// Data is 16-bit PCM in [audio.SpeechFormat]; the first Overlap of it
	// repeats the end of the previous window.
	Data []byte

	// Offset is the stream position of the first fresh sample.
	Offset time.Duration

	// Overlap is the length of the repeated prefix.
	Overlap time.Duration
}

// Duration returns the playback length of the window.
func (w Window) Duration() time.Duration { return audio.SpeechFormat.Duration(len(w.Data)) }

// ProducerConfig configures a [Producer].
type ProducerConfig struct {
	// Input is the PCM format of the source stream. Default: [audio.SpeechFormat].
	Input audio.Format

	// Window is the amount of fresh audio per window. Default: 4s.
	Window time.Duration

	// Overlap is the tail of the previous window prepended to each window.
	// Must be shorter than Window. Default: 0.
	Overlap time.Duration
}

// Producer reads a PCM stream and emits overlapping windows.
type Producer struct {
	src       io.Reader
	input     audio.Format
	conv      audio.Converter
	readBytes int
	tailBytes int
	overlap   time.Duration
	metrics   *observe.Metrics
}

// NewProducer validates cfg and returns a [Producer] reading from src. When
// src is also an io.Closer it is closed once the producer's context is done,
// which unblocks a pending read.
func NewProducer(src io.Reader, cfg ProducerConfig, m *observe.Metrics) (*Producer, error) {
	if cfg.Input == (audio.Format{}) {
		cfg.Input = audio.SpeechFormat
	}
	if cfg.Window == 0 {
		cfg.Window = 4 * time.Second
	}
	if _, err := chunk.NewPlan(0, cfg.Window.Seconds(), cfg.Overlap.Seconds()); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	if cfg.Input.SampleRate <= 0 || cfg.Input.Channels <= 0 {
		return nil, fmt.Errorf("realtime: invalid input format %s", cfg.Input)
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Producer{
		src:       src,
		input:     cfg.Input,
		conv:      audio.Converter{SampleRate: audio.SpeechFormat.SampleRate},
		readBytes: cfg.Input.Bytes(cfg.Window),
		tailBytes: audio.SpeechFormat.Bytes(cfg.Overlap),
		overlap:   cfg.Overlap,
		metrics:   m,
	}, nil
}

// Run reads windows until the source ends or ctx is done and sends them to
// out, blocking while out is full. It closes out before returning. A trailing
// partial window is still sent. The end of the source is not an error.
func (p *Producer) Run(ctx context.Context, out chan<- Window) error {
	defer close(out)
	if c, ok := p.src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	var (
		tail   []byte
		offset time.Duration
		sent   int
		buf    = make([]byte, p.readBytes)
	)
	for {
		n, err := io.ReadFull(p.src, buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return fmt.Errorf("realtime: read source: %w", err)
		}
		whole := n - n%p.input.FrameSize()
		fresh := p.conv.Convert(audio.Frame{
			Data:   append([]byte(nil), buf[:whole]...),
			Format: p.input,
			Offset: offset,
		})
		if len(fresh.Data) > 0 {
			w := Window{
				Seq:     sent,
				Data:    append(tail, fresh.Data...),
				Offset:  offset,
				Overlap: audio.SpeechFormat.Duration(len(tail)),
			}
			select {
			case out <- w:
				p.metrics.LiveQueueDepth.Add(ctx, 1)
			case <-ctx.Done():
				return ctx.Err()
			}
			sent++
			tail = lastBytes(w.Data, p.tailBytes)
		}
		offset += p.input.Duration(whole)

		if eof {
			observe.Logger(ctx).Info("realtime: source ended", "windows", sent, "position", offset)
			return nil
		}
	}
}

// lastBytes returns a copy of the final n bytes of b.
func lastBytes(b []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > len(b) {
		n = len(b)
	}
	return append([]byte(nil), b[len(b)-n:]...)
}
