// Package media wraps the ffmpeg and ffprobe command-line tools.
//
// A [Tool] probes recording durations, extracts individual segments as 16-bit
// PCM WAV on stdout, normalises arbitrary uploads through a list of fallback
// ffmpeg invocations, and starts long-running capture processes for the live
// pipeline. Every one-shot invocation is bounded by the configured timeout.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultCheckTimeout = 5 * time.Second

	// maxStderr is the number of trailing stderr bytes kept for error messages.
	maxStderr = 1024
)

// Option is a functional option for configuring a Tool.
type Option func(*Tool)

// WithFFmpegPath sets the ffmpeg executable. Defaults to "ffmpeg" on $PATH.
func WithFFmpegPath(path string) Option {
	return func(t *Tool) {
		if path != "" {
			t.ffmpeg = path
		}
	}
}

// WithFFprobePath sets the ffprobe executable. Defaults to "ffprobe" on $PATH.
func WithFFprobePath(path string) Option {
	return func(t *Tool) {
		if path != "" {
			t.ffprobe = path
		}
	}
}

// WithTimeout bounds every one-shot ffmpeg / ffprobe invocation. Defaults to
// 30 s.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithFormat sets the PCM format of extracted segments and capture streams.
// Defaults to [audio.SpeechFormat] (16 kHz mono).
func WithFormat(f audio.Format) Option {
	return func(t *Tool) {
		if f.SampleRate > 0 && f.Channels > 0 {
			t.format = f
		}
	}
}

// Tool runs ffmpeg and ffprobe. It holds no per-call state and is safe for
// concurrent use.
type Tool struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	format  audio.Format
}

// New returns a Tool with defaults overridden by opts.
func New(opts ...Option) *Tool {
	t := &Tool{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		timeout: defaultTimeout,
		format:  audio.SpeechFormat,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Format returns the PCM format of extracted segments.
func (t *Tool) Format() audio.Format { return t.format }

// ProbeDuration returns the duration of the recording at path in seconds.
func (t *Tool) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, stderr, err := t.run(ctx, t.timeout, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, &ProbeError{Path: path, Stderr: stderr, Err: err}
	}

	raw := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ProbeError{Path: path, Stderr: stderr, Err: fmt.Errorf("parse duration %q: %w", raw, err)}
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("invalid duration %g", d)}
	}
	return d, nil
}

// ExtractSegment decodes [start, start+length) seconds of the recording at path
// and returns it as a WAV file in the tool's PCM format.
func (t *Tool) ExtractSegment(ctx context.Context, path string, start, length float64) ([]byte, error) {
	out, stderr, err := t.run(ctx, t.timeout, t.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", path,
		"-ac", strconv.Itoa(t.format.Channels),
		"-ar", strconv.Itoa(t.format.SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-",
	)
	if err == nil && len(out) <= 44 {
		err = ErrEmptyOutput
	}
	if err != nil {
		return nil, &ConversionError{Path: path, Start: start, Length: length, Stderr: stderr, Err: err}
	}
	return out, nil
}

// normalizeVariant is one ffmpeg invocation tried by Normalize.
type normalizeVariant struct {
	name string
	ext  string
	args []string
}

// normalizeVariants lists the conversions tried in order, from the most
// compact encoding to the most permissive.
func normalizeVariants(f audio.Format) []normalizeVariant {
	ar, ac := strconv.Itoa(f.SampleRate), strconv.Itoa(f.Channels)
	return []normalizeVariant{
		{name: "mp3-libmp3lame", ext: ".mp3", args: []string{"-vn", "-ar", ar, "-ac", ac, "-c:a", "libmp3lame", "-b:a", "64k", "-f", "mp3"}},
		{name: "mp3-generic", ext: ".mp3", args: []string{"-vn", "-ar", ar, "-ac", ac, "-acodec", "mp3", "-f", "mp3"}},
		{name: "wav", ext: ".wav", args: []string{"-vn", "-ar", ar, "-ac", ac, "-f", "wav"}},
		{name: "basic", ext: ".wav", args: []string{"-ar", ar, "-ac", ac}},
	}
}

// Normalize converts the file at in to the tool's sample rate and channel
// count, writing the result into outDir. Conversions are tried in order until
// one exits cleanly and leaves a non-empty output file. The returned path is
// the accepted output.
func (t *Tool) Normalize(ctx context.Context, in, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("media: normalize: create output dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + "_normalized"

	var errs []error
	for i, v := range normalizeVariants(t.format) {
		out := filepath.Join(outDir, base+v.ext)
		args := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y", "-i", in}, v.args...)
		args = append(args, out)

		slog.Debug("media: normalize attempt", "input", in, "method", v.name, "attempt", i+1)
		_, stderr, err := t.run(ctx, t.timeout, t.ffmpeg, args...)
		if err == nil {
			if fi, statErr := os.Stat(out); statErr != nil || fi.Size() == 0 {
				err = ErrEmptyOutput
			}
		}
		if err == nil {
			slog.Info("media: normalized input", "input", in, "output", out, "method", v.name)
			return out, nil
		}

		slog.Warn("media: normalize method failed", "input", in, "method", v.name, "error", err, "stderr", stderr)
		errs = append(errs, fmt.Errorf("%s: %w", v.name, err))
		_ = os.Remove(out)
		if ctx.Err() != nil {
			break
		}
	}
	return "", &ConversionError{Path: in, Err: errors.Join(errs...)}
}

// Check verifies that ffmpeg and ffprobe can be executed. Each probe is bounded
// by a 5 s timeout.
func (t *Tool) Check(ctx context.Context) error {
	var errs []error
	for _, bin := range []string{t.ffmpeg, t.ffprobe} {
		if _, stderr, err := t.run(ctx, defaultCheckTimeout, bin, "-version"); err != nil {
			errs = append(errs, fmt.Errorf("media: %s -version: %w (%s)", bin, err, stderr))
		}
	}
	return errors.Join(errs...)
}

// Capture starts ffmpeg reading from an input device (e.g. format "alsa",
// "pulse", "avfoundation" or "dshow" and device "default") and returns its
// stdout as raw PCM in the tool's format. The process runs until ctx is done or
// the returned reader is closed.
func (t *Tool) Capture(ctx context.Context, inputFormat, device string) (io.ReadCloser, error) {
	if device == "" {
		return nil, errors.New("media: capture: device must not be empty")
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if inputFormat != "" {
		args = append(args, "-f", inputFormat)
	}
	args = append(args,
		"-i", device,
		"-ac", strconv.Itoa(t.format.Channels),
		"-ar", strconv.Itoa(t.format.SampleRate),
		"-f", "s16le",
		"-",
	)

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	cmd.WaitDelay = time.Second
	stderr := &tailBuffer{max: maxStderr}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("media: capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("media: capture: start %s: %w", t.ffmpeg, err)
	}
	slog.Info("media: capture started", "input_format", inputFormat, "device", device, "format", t.format.String())
	return &captureStream{ReadCloser: stdout, cmd: cmd, cancel: cancel, stderr: stderr}, nil
}

// captureStream stops the capture process when closed.
type captureStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer
	once   sync.Once
	err    error
}

// Close terminates ffmpeg and waits for it to exit. Calling Close more than
// once is safe.
func (s *captureStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
			s.err = fmt.Errorf("media: capture: %w", err)
		}
		if msg := s.stderr.String(); msg != "" {
			slog.Debug("media: capture stopped", "stderr", msg)
		}
	})
	return s.err
}

// ---- helpers ----------------------------------------------------------------

// run executes name with args under a timeout and returns stdout and the tail
// of stderr.
func (t *Tool) run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	var stdout bytes.Buffer
	stderr := &tailBuffer{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%s timed out after %s: %w", filepath.Base(name), timeout, context.DeadlineExceeded)
		case ctx.Err() != nil:
			err = fmt.Errorf("%s: %w", filepath.Base(name), ctx.Err())
		default:
			err = fmt.Errorf("%s: %w", filepath.Base(name), err)
		}
	}
	return stdout.Bytes(), stderr.String(), err
}

// formatSeconds renders a second offset with millisecond precision.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// tailBuffer is an io.Writer that keeps only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
