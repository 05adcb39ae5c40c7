package realtime

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
)

// DefaultQueueSize is the window buffer between producer and consumer.
const DefaultQueueSize = 8

// Run wires p and c through a channel holding up to queueSize windows and
// blocks until the source ends and every queued window is transcribed, or
// until ctx is done. The producer blocks while the queue is full. A cancelled
// context is not reported as an error.
func Run(ctx context.Context, p *Producer, c *Consumer, queueSize int, emit func(Event)) error {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	windows := make(chan Window, queueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx, windows) })
	g.Go(func() error { return c.Run(gctx, windows, emit) })

	err := g.Wait()
	// Windows left behind by a cancelled consumer.
	for range windows {
		c.metrics.LiveQueueDepth.Add(ctx, -1)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// RunSource is a convenience wrapper that builds the producer and consumer
// and closes src when done.
func RunSource(ctx context.Context, src io.ReadCloser, pcfg ProducerConfig, c *Consumer, queueSize int, emit func(Event)) error {
	defer src.Close()
	p, err := NewProducer(src, pcfg, c.metrics)
	if err != nil {
		return err
	}
	return Run(ctx, p, c, queueSize, emit)
}
