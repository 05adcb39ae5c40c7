package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/chunk"
)

// AudioExtensions lists the file extensions picked up by [FindRecordings].
var AudioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm"}

// Normalizer converts an arbitrary input into a file the media tool can probe.
// media.Tool implements it.
type Normalizer interface {
	Normalize(ctx context.Context, in, outDir string) (string, error)
}

// Sink receives every finished recording.
type Sink interface {
	Save(ctx context.Context, r Result) error
}

// Result is the outcome of one recording.
type Result struct {
	Recording  Recording
	Plan       chunk.Plan
	Segments   []Segment
	Transcript string
	Summary    Summary
	Elapsed    time.Duration
}

// ServiceConfig holds the planning parameters of a [Service].
type ServiceConfig struct {
	// ChunkSeconds is the nominal chunk length.
	ChunkSeconds float64

	// OverlapSeconds is the context shared with each neighbouring chunk.
	OverlapSeconds float64

	// WorkDir receives normalized copies of inputs that cannot be probed
	// directly. Default: os.TempDir().
	WorkDir string
}

// Service transcribes whole recordings: probe, plan, run the driver,
// assemble and hand the result to the sinks.
type Service struct {
	cfg        ServiceConfig
	prober     Prober
	normalizer Normalizer
	driver     *Driver
	sinks      []Sink
	metrics    *observe.Metrics
}

// ServiceOption is a functional option for [NewService].
type ServiceOption func(*Service)

// WithNormalizer enables the normalization fallback for inputs whose duration
// cannot be probed.
func WithNormalizer(n Normalizer) ServiceOption {
	return func(s *Service) { s.normalizer = n }
}

// WithSinks registers result sinks, called in order.
func WithSinks(sinks ...Sink) ServiceOption {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithServiceMetrics overrides [observe.DefaultMetrics].
func WithServiceMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService validates the chunk parameters and returns a [Service]. An
// invalid chunk length or overlap yields a *chunk.ConfigError before any
// recording is touched.
func NewService(cfg ServiceConfig, prober Prober, driver *Driver, opts ...ServiceOption) (*Service, error) {
	if _, err := chunk.NewPlan(0, cfg.ChunkSeconds, cfg.OverlapSeconds); err != nil {
		return nil, err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	s := &Service{cfg: cfg, prober: prober, driver: driver}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Transcribe processes one recording. It fails only when the recording cannot
// be probed or planned; chunk failures show up as placeholders in the
// transcript and in [Result.Summary]. Sink errors are returned together with
// the otherwise complete result.
func (s *Service) Transcribe(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	name := filepath.Base(path)
	ctx, span := observe.StartRecordingSpan(ctx, name)
	defer span.End()
	log := observe.Logger(ctx).With("recording", name)

	rec, cleanup, err := s.probe(ctx, path)
	defer cleanup()
	if err != nil {
		s.metrics.RecordRecording(ctx, observe.StatusFailed, time.Since(start))
		span.RecordError(err)
		return Result{}, err
	}
	rec.Name = name
	rec.Source = path
	log.Info("recording probed", "duration", rec.Duration, "elapsed", time.Since(start).Round(time.Millisecond))

	plan, err := chunk.NewPlan(rec.Duration, s.cfg.ChunkSeconds, s.cfg.OverlapSeconds)
	if err != nil {
		s.metrics.RecordRecording(ctx, observe.StatusFailed, time.Since(start))
		return Result{}, fmt.Errorf("transcribe: plan %s: %w", name, err)
	}

	runStart := time.Now()
	segments := s.driver.Run(ctx, rec, plan)
	res := Result{
		Recording:  rec,
		Plan:       plan,
		Segments:   segments,
		Transcript: Assemble(segments),
		Summary:    Summarize(segments),
	}
	res.Elapsed = time.Since(start)

	status := observe.StatusOK
	if res.Summary.Failed > 0 {
		status = observe.StatusFailed
	}
	s.metrics.RecordRecording(ctx, status, res.Elapsed)
	log.Info("recording transcribed",
		"chunks", res.Summary.Chunks,
		"failed", res.Summary.Failed,
		"chars", len(res.Transcript),
		"transcription_time", time.Since(runStart).Round(time.Millisecond),
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Save(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// TranscribeAll processes paths one after another. A failing recording is
// logged and skipped; the returned error joins every failure. Cancellation
// stops the batch.
func (s *Service) TranscribeAll(ctx context.Context, paths []string) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		observe.Logger(ctx).Info("processing recording", "file", p, "n", i+1, "of", len(paths))
		res, err := s.Transcribe(ctx, p)
		if err != nil {
			observe.Logger(ctx).Error("recording failed", "file", p, "err", err)
			errs = append(errs, err)
		}
		if res.Recording.Path != "" {
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}

// probe returns the recording for path. When the media tool cannot read the
// duration and a normalizer is configured, the input is converted first and
// the converted copy is probed instead; cleanup removes that copy.
func (s *Service) probe(ctx context.Context, path string) (Recording, func(), error) {
	noop := func() {}
	dur, err := s.prober.ProbeDuration(ctx, path)
	if err == nil {
		return Recording{Path: path, Duration: dur}, noop, nil
	}
	if s.normalizer == nil || ctx.Err() != nil {
		return Recording{}, noop, err
	}

	observe.Logger(ctx).Warn("probe failed, normalizing input", "file", path, "err", err)
	normalized, nerr := s.normalizer.Normalize(ctx, path, s.cfg.WorkDir)
	if nerr != nil {
		return Recording{}, noop, errors.Join(err, nerr)
	}
	cleanup := func() { _ = os.Remove(normalized) }
	dur, perr := s.prober.ProbeDuration(ctx, normalized)
	if perr != nil {
		return Recording{}, cleanup, errors.Join(err, perr)
	}
	return Recording{Path: normalized, Duration: dur}, cleanup, nil
}

// FindRecordings lists the audio files directly inside dir, sorted by name.
func FindRecordings(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("transcribe: list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(AudioExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
