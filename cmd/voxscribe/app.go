package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/health"
	"github.com/MrWong99/voxscribe/internal/media"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/internal/store"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// app holds the long-lived components shared by every command.
type app struct {
	cfg     *config.Config
	metrics *observe.Metrics
	tool    *media.Tool
	stt     *resilience.STTFallback
	pg      *store.PostgresSink // nil without output.postgres_dsn
	health  *health.Handler

	closers      []io.Closer
	admin        *http.Server
	otelShutdown func(context.Context) error
}

func newApp(ctx context.Context, command string, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// ── Observability ─────────────────────────────────────────────────────────
	a.otelShutdown, err = observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxscribe",
		ServiceVersion: version,
		Command:        command,
		SampleRatio:    cfg.Admin.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.metrics = observe.DefaultMetrics()

	// ── Media tool ────────────────────────────────────────────────────────────
	a.tool = media.New(
		media.WithFFmpegPath(cfg.Media.FFmpegPath),
		media.WithFFprobePath(cfg.Media.FFprobePath),
		media.WithTimeout(cfg.Media.Timeout),
		media.WithFormat(audio.Format{SampleRate: cfg.Media.SampleRate, Channels: 1}),
	)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	a.stt, a.closers, err = buildSTT(cfg, reg)
	if err != nil {
		return nil, err
	}
	slog.Info("stt backends ready", "order", a.stt.Names())

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Output.PostgresDSN != "" {
		a.pg, err = store.NewPostgres(ctx, cfg.Output.PostgresDSN)
		if err != nil {
			return nil, err
		}
	}

	// ── Health ────────────────────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "ffmpeg", Check: a.tool.Check},
		{Name: "stt", Check: a.stt.Check},
	}
	if a.pg != nil {
		checkers = append(checkers, health.Checker{Name: "postgres", Check: a.pg.Ping})
	}
	a.health = health.New(checkers...)

	if cfg.Admin.ListenAddr != "" {
		if err := a.startAdmin(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// adminHandler routes /metrics, /healthz and /readyz behind the
// instrumentation middleware.
func adminHandler(h *health.Handler, m *observe.Metrics, g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	h.Register(mux)
	return observe.Middleware(m)(mux)
}

// startAdmin serves adminHandler on the admin listener.
func (a *app) startAdmin(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Admin.ListenAddr)
	if err != nil {
		return fmt.Errorf("admin listener: %w", err)
	}
	a.admin = &http.Server{
		Handler:           adminHandler(a.health, a.metrics, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := a.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()
	slog.Info("admin listener started", "addr", ln.Addr().String())
	return nil
}

// sttOptions returns the per-request options shared by batch and live mode.
func (a *app) sttOptions() stt.Options {
	t := a.cfg.Transcription
	return stt.Options{Model: t.Model, Language: t.Language, Prompt: t.Prompt}
}

// newService assembles the batch pipeline writing transcripts to outDir.
func (a *app) newService(outDir string, concurrency int) (*transcribe.Service, error) {
	t := a.cfg.Transcription
	opts := []transcribe.Option{
		transcribe.WithConcurrency(concurrency),
		transcribe.WithTimeout(t.Timeout),
		transcribe.WithOptions(a.sttOptions()),
		transcribe.WithProviderName("stt"),
		transcribe.WithOnSegment(transcribe.LogSegment),
		transcribe.WithMetrics(a.metrics),
	}
	if len(t.RetryVariations) > 0 {
		opts = append(opts, transcribe.WithVariations(t.RetryVariations))
	}
	driver := transcribe.NewDriver(a.tool, a.stt, opts...)

	sinks := []transcribe.Sink{store.NewFileSink(outDir)}
	if a.pg != nil {
		sinks = append(sinks, a.pg)
	}
	return transcribe.NewService(transcribe.ServiceConfig{
		ChunkSeconds:   a.cfg.Chunking.ChunkSeconds,
		OverlapSeconds: a.cfg.Chunking.OverlapSeconds,
	}, a.tool, driver,
		transcribe.WithNormalizer(a.tool),
		transcribe.WithSinks(sinks...),
		transcribe.WithServiceMetrics(a.metrics),
	)
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.admin != nil {
		if err := a.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server: %w", err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
