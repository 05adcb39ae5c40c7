package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Variation is one attempt configuration. Attempts run in order until one
// returns non-empty text.
type Variation struct {
	// Temperature overrides the sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// Language keeps the configured language hint. When false the provider
	// auto-detects the language.
	Language bool `yaml:"language"`
}

// DefaultVariations degrade the request step by step: first a slightly higher
// temperature, then dropping the language hint, then a high temperature for
// difficult audio.
var DefaultVariations = []Variation{
	{Temperature: 0, Language: true},
	{Temperature: 0.2, Language: true},
	{Temperature: 0, Language: false},
	{Temperature: 0.5, Language: false},
}

// Apply returns base with the variation's overrides.
func (v Variation) Apply(base stt.Options) stt.Options {
	base.Temperature = v.Temperature
	if !v.Language {
		base.Language = ""
	}
	return base
}

// attemptOptions expands variations against base and drops repeats, e.g. the
// language-less variations when no language is configured.
func attemptOptions(base stt.Options, variations []Variation) []stt.Options {
	if len(variations) == 0 {
		return []stt.Options{base}
	}
	out := make([]stt.Options, 0, len(variations))
	for _, v := range variations {
		opts := v.Apply(base)
		dup := false
		for _, seen := range out {
			if seen == opts {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, opts)
		}
	}
	return out
}

// attemptResult is the outcome of [retrier.transcribe].
type attemptResult struct {
	stt.Result
	Attempts int
	// Variation is the 0-based index of the successful attempt.
	Variation int
}

// retrier runs the attempt list for one chunk.
type retrier struct {
	provider stt.Provider
	attempts []stt.Options
	timeout  time.Duration
	record   func(ctx context.Context, status string, d time.Duration, err error)
}

// transcribe tries each attempt in order. Every call is bounded by the retry
// timeout. An empty transcript counts as [stt.ErrEmptyResult]. A done parent
// context stops the loop immediately.
func (r *retrier) transcribe(ctx context.Context, index int, a stt.Audio) (attemptResult, error) {
	var (
		errs     []error
		attempts int
	)
	for i, opts := range r.attempts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		attempts++
		res, err := r.call(ctx, a, opts)
		if err == nil {
			return attemptResult{Result: res, Attempts: attempts, Variation: i}, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", i+1, err))
		slog.Debug("transcription attempt failed",
			"chunk", index+1,
			"attempt", i+1,
			"temperature", opts.Temperature,
			"language", opts.Language,
			"err", err,
		)
	}
	return attemptResult{}, &TranscriptionError{Index: index, Attempts: attempts, Err: errors.Join(errs...)}
}

func (r *retrier) call(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.provider.Transcribe(callCtx, a, opts)
	if err == nil {
		res.Text = strings.TrimSpace(res.Text)
		if res.Text == "" {
			err = stt.ErrEmptyResult
		}
	}
	if r.record != nil {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		r.record(ctx, status, time.Since(start), err)
	}
	return res, err
}

// confidence estimates how trustworthy a transcript is from the attempt that
// produced it and its word count: each extra attempt costs 0.1 and very short
// texts are penalised, with a floor of 0.5.
func confidence(variation int, text string) float64 {
	words := max(1, len(strings.Fields(text)))
	return math.Max(0.5, 1.0-float64(variation)*0.1-1.0/float64(words))
}
